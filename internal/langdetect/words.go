package langdetect

import "strings"

// The lists hold roughly the 300 most frequent words of each language:
// function words, common verb forms and everyday nouns. Elided French and
// Italian articles appear as their bare letter since tokens split on apostrophes.
var defaultLexicon = NewLexicon(map[string][]string{
	"en": strings.Fields(english),
	"es": strings.Fields(spanish),
	"fr": strings.Fields(french),
	"de": strings.Fields(german),
	"it": strings.Fields(italian),
	"pt": strings.Fields(portuguese),
	"nl": strings.Fields(dutch),
})

const english = `
the be to of and a in that have i it for not on with he as you do at this but his by
from they we say her she or an will my one all would there their what so up out if
about who get which go me when make can like time no just him know take people into
year your good some could them see other than then now look only come its over think
also back after use two how our work first well way even new want because any these
give day most us is are was were been being has had did does said made went got am
very through where much before right too mean old same tell great little own here
thing man woman child world life hand part place case week company system program
question government number night point home water room mother area money story fact
month lot study book eye job word business issue side kind head house service friend
father power hour game line end member law car city community name president team
minute idea kid body information school face others level office door health person
art war history party result change morning reason research girl guy moment air
teacher force education should may might must shall never always often still yet
while until since though although however each every both few many several such
whole another next last long big high small large young early late important public
bad able sure free full real best better less least more enough quite rather almost
again away down off once later soon together why during without against between
under around among within upon per something nothing everything anything someone
everyone nobody myself yourself himself herself itself ourselves themselves those
whom whose yes let put keep seem help show hear play run move live believe hold
bring happen write provide sit stand lose pay meet include continue set learn lead
understand watch follow stop create speak read allow add spend grow open walk win
offer remember love consider appear buy wait serve die send expect build stay fall
cut reach remain suggest raise pass sell require report decide pull begin start call
try ask need feel become leave find turn today tomorrow yesterday
`

const spanish = `
el la los las un una unos unas y e o u ni pero sino que de del a al en con por para
sin sobre entre hasta desde hacia contra según durante mediante tras ante bajo es son
era eran fue fueron ser estar está están estaba estaban estoy estamos soy somos eres
sido siendo hay había habrá ha han he hemos has haber tener tiene tienen tenía tengo
tenemos hacer hace hacen hizo hecho ir va van vamos voy iba poder puede pueden podía
podemos puedo decir dice dicen dijo ver ve vez veces dar da dan dio saber sabe sé
querer quiere quieren debe deben deber llegar pasar pasa quedar queda poner pone
parecer parece seguir sigue encontrar llamar venir viene pensar salir volver tomar
conocer vivir sentir tratar mirar contar empezar esperar buscar existir entrar
trabajar escribir perder producir ocurrir entender pedir recibir recordar terminar
permitir aparecer conseguir comenzar servir sacar necesitar mantener resultar leer
caer cambiar presentar crear abrir considerar oír acabar yo tú él ella ello nosotros
nosotras vosotros ellos ellas usted ustedes me te se nos os lo le les mi mis tu tus
su sus nuestro nuestra nuestros nuestras vuestro este esta esto estos estas ese esa
eso esos esas aquel aquella aquello qué quién quiénes cuál cuáles cuándo dónde cómo
cuánto quien cual cuando donde como cuanto no sí muy más menos también tampoco todo
toda todos todas otro otra otros otras mismo misma mucho mucha muchos muchas poco poca
pocos algo alguien algún alguno alguna nada nadie ningún ninguno cada tanto tan porque
pues si ya aquí allí ahí ahora hoy ayer mañana siempre nunca antes después luego
entonces bien mal mejor peor así aún todavía solo sólo casi además mientras aunque día
días año años tiempo vida cosa cosas casa mundo país hombre mujer parte forma lugar
caso trabajo gobierno momento manera persona personas gente hijo hijos padre madre
agua ciudad historia nuevo nueva nuevos gran grande grandes primero primera primer
último bueno buena pequeño largo alto mayor menor propio cierto general social
nombre semana mes noche hora punto problema empresa equipo niño niños familia próximo
próxima
`

const french = `
le la les l un une des du de d à au aux et ou mais donc or ni car en dans avec pour par
sur sous sans chez entre vers contre depuis pendant avant après selon est sont était
étaient été être suis es sommes êtes sera seront serait fut avoir ai as a avons avez
ont avait avaient aura aurait eu faire fait font faisait fais dire dit disent aller va
vont allait vais pouvoir peut peuvent pouvait peux pu vouloir veut veulent voulait veux
voir voit vu savoir sait sais devoir doit doivent devait venir vient prendre prend
mettre met trouver trouve donner donne parler parle passer passe falloir faut croire
tenir porter demander rester penser aimer arriver partir sembler laisser regarder je j
tu il elle on nous vous ils elles me m te t se s lui leur leurs y moi toi soi eux mon
ton son ma ta sa mes tes ses notre nos votre vos ce c cet cette ces ça cela ceci celui
celle ceux qui que qu quoi dont où quand comment pourquoi combien quel quelle quels
quelles ne n pas plus rien jamais personne aucun aucune non oui si très trop peu
beaucoup assez aussi encore déjà toujours souvent parfois bien mal mieux tout toute
tous toutes autre autres même mêmes chaque plusieurs quelque quelques certains tel
telle ici là maintenant aujourd hui hier demain alors puis ensuite enfin ainsi comme
parce puisque lorsque tandis cependant pourtant surtout seulement vraiment presque
jour jours an ans année années temps fois vie monde homme femme enfant enfants chose
choses pays main partie place cas travail gouvernement moment façon gens fils père
mère eau ville histoire maison nouveau nouvelle nouveaux grand grande grands petit
petite premier première dernier dernière bon bonne long haut général nom semaine mois
nuit heure point problème entreprise équipe famille prochain prochaine
`

const german = `
der die das den dem des ein eine einen einem einer eines und oder aber denn sondern
doch von zu zum zur in im ins an am auf mit für bei beim aus nach über unter vor
hinter neben zwischen durch gegen ohne um bis seit während wegen trotz ist sind war
waren bin bist seid sein gewesen wäre wird werden wurde wurden worden würde habe hast
hat haben hatte hatten gehabt kann können konnte konnten muss müssen musste soll
sollen sollte will wollen wollte darf dürfen mag möchte machen macht gemacht geben
gibt gab gehen geht ging kommen kommt kam sagen sagt sagte sehen sieht sah wissen weiß
lassen lässt stehen steht finden findet bleiben bleibt liegen liegt heißen heißt
denken nehmen nimmt tun tut glauben halten nennen zeigen führen sprechen bringen leben
fahren meinen fragen kennen gelten spielen arbeiten brauchen folgen lernen bestehen
verstehen setzen bekommen beginnen erzählen versuchen schreiben laufen erklären ich du
er sie es wir ihr mich dich sich uns euch mir dir ihm ihn ihnen man mein meine meinen
meinem meiner dein deine seine seinen seinem seiner ihre ihren ihrem ihrer unser
unsere euer eure dieser diese dieses diesen diesem jener jene welcher welche welches
was wer wen wem wessen wann wo wohin woher wie warum weshalb nicht kein keine keinen
keinem nichts nie niemals ja nein sehr auch noch nur schon immer wieder mehr weniger
viel viele wenig alle alles allem jeder jede jedes jeden andere anderen anderer etwas
jemand niemand hier dort da jetzt heute gestern morgen dann damals bald oft manchmal
also so dass daß wenn als ob weil obwohl damit sowie zwar eben gerade ganz gut besser
schlecht neu neue neuen alt alte groß große klein kleine lang hoch erste ersten letzte
eigene jahr jahre jahren zeit tag tage welt mensch menschen mann frau kind kinder
ding land hand teil ort fall arbeit regierung moment art weise vater mutter wasser
stadt geschichte haus name woche monat nacht stunde frage problem firma team familie
nächste nächsten
`

const italian = `
il lo la i gli le l un uno una e ed o oppure ma però di del dello della dei degli delle
a al allo alla ai agli alle da dal dalla dai in nel nello nella nei negli nelle con col
per su sul sulla sui tra fra senza sopra sotto dopo prima durante verso contro è sono
era erano fu stato stata stati essere sei siamo siete sarà sarebbe ho hai ha abbiamo
avete hanno aveva avevano avere avuto fare fa fanno faceva fatto dire dice dicono detto
andare va vanno andato potere può possono poteva posso volere vuole vogliono voleva
voglio dovere deve devono doveva vedere vede visto sapere sa so dare dà dato stare sta
stanno venire viene prendere parlare trovare sentire pensare lasciare tenere portare
mettere passare chiamare credere guardare capire arrivare restare cercare lavorare
vivere scrivere leggere io tu lui lei noi voi loro esso essa mi ti si ci vi ne me te
sé mio mia miei mie tuo tua tuoi suo sua suoi sue nostro nostra nostri vostro vostra
questo questa questi queste quello quella quelli quelle quel ciò che chi cui quale
quali quando dove come perché quanto quanta cosa non no sì molto molta molti molte più
meno poco poca pochi anche ancora già sempre mai spesso bene male meglio peggio tutto
tutta tutti tutte altro altra altri altre stesso stessa ogni ognuno qualche qualcosa
qualcuno nessuno niente nulla tanto tanta così qui qua lì là ora adesso oggi ieri
domani poi allora quindi dunque infatti mentre se perciò invece proprio solo soltanto
quasi forse giorno giorni anno anni tempo vita volta volte mondo uomo donna bambino
bambini cose paese mano parte posto caso lavoro governo momento modo persona persone
gente figlio padre madre acqua città storia casa nuovo nuova nuovi grande grandi
piccolo piccola primo ultimo buono buona lungo alto nome settimana mese notte punto
problema azienda squadra famiglia prossima prossimo
`

const portuguese = `
o a os as um uma uns umas e ou mas porém nem de do da dos das em no na nos nas num
numa por pelo pela pelos pelas para pra com sem sobre entre até desde contra durante
após ante sob é são era eram foi foram ser estar está estão estava estavam estou
estamos sou somos sido sendo há havia haver ter tem têm tinha tenho temos teve tido
fazer faz fazem fez feito ir vai vão vou ia poder pode podem podia posso dizer diz
dizem disse ver vê viu visto dar dá deu saber sabe sei querer quer querem dever deve
devem ficar fica passar passa chegar chega falar encontrar pensar levar deixar parecer
conhecer viver sentir tomar trabalhar começar achar usar precisar entrar voltar
chamar ouvir escrever ler eu tu ele ela nós vós eles elas você vocês me te se vos lhe
lhes mim ti si meu minha meus minhas teu tua seu sua seus suas nosso nossa nossos
nossas este esta estes estas isto esse essa esses essas isso aquele aquela aquilo que
quem qual quais quando onde como porque porquê quanto não sim muito muita muitos
muitas mais menos também tampouco todo toda todos todas outro outra outros outras
mesmo mesma pouco pouca poucos algo alguém algum alguma nada ninguém nenhum nenhuma
cada tanto tão pois já aqui ali aí agora hoje ontem amanhã sempre nunca antes depois
logo então bem mal melhor pior assim ainda só apenas quase além enquanto embora dia
dias ano anos tempo vida vez vezes coisa coisas casa mundo país homem mulher parte
forma lugar caso trabalho governo momento maneira pessoa pessoas gente filho filhos
pai mãe água cidade história novo nova novos grande grandes primeiro primeira último
bom boa pequeno longo alto maior menor próprio nome semana mês noite hora ponto
problema empresa equipe família próxima próximo
`

const dutch = `
de het een en of maar want dus noch van te in op aan met voor door bij uit naar over
onder tussen tegen zonder om tot sinds tijdens na achter naast boven rond is zijn was
waren ben bent geweest zou zouden wordt worden werd werden heb hebt heeft hebben had
hadden gehad kan kunnen kon konden moet moeten moest zal zullen wil willen wilde mag
mogen doen doet deed gedaan gaan gaat ging gegaan komen komt kwam gekomen zeggen zegt
zei zien ziet zag weten weet laten laat staan staat vinden vindt blijven blijft
liggen ligt maken maakt gemaakt geven geeft nemen neemt denken denkt houden kennen
spreken brengen leven werken lezen schrijven vragen krijgen beginnen spelen lopen
zitten ik jij je u hij zij ze wij we jullie mij me jou hem haar ons hen hun zich
mijn jouw uw onze dit dat deze die wat wie welke waar wanneer hoe waarom niet geen
niets nooit ja nee zeer heel erg ook nog al alleen steeds altijd weer meer minder veel
weinig alle alles iedereen elk elke ieder andere ander iets iemand niemand hier daar
er nu vandaag gisteren morgen dan toen straks vaak soms zo als omdat hoewel terwijl
toch wel even zelf goed beter slecht nieuw nieuwe oud oude groot grote klein kleine
lang hoog eerste laatste eigen jaar jaren tijd dag dagen wereld mens mensen man vrouw
kind kinderen ding land hand deel plaats geval werk regering moment manier vader
moeder water stad geschiedenis huis naam week maand nacht uur vraag probleem bedrijf
team familie volgende vanaf zodat zoals waarvoor daarom daarna eerst later samen
buiten binnen bijna genoeg misschien natuurlijk echt zeker vooral gewoon juist helemaal
zelfs nooit weg terug verder soort stuk kant keer vorm reden begin einde school boek
deur hoofd ogen vriend geld
`
