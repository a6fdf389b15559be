//go:build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/recast/internal/metrics"
	"github.com/raphaelgruber/recast/internal/models"
)

var testDB *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil, metrics.NewCollector())
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

func seedDocs(t *testing.T, table string, n int) {
	t.Helper()
	ctx := context.Background()
	rows := make([]models.Record, n)
	for i := range rows {
		rows[i] = models.Record{
			"id":   surrealmodels.RecordID{Table: table, ID: fmt.Sprintf("doc%02d", i)},
			"body": fmt.Sprintf("text %d", i),
			"kind": "mixed",
		}
	}
	require.NoError(t, testDB.Insert(ctx, table, rows))
	t.Cleanup(func() {
		_, _ = surrealdb.Query[any](ctx, testDB.db, "DELETE "+table, nil)
	})
}

func TestCountAndQuery(t *testing.T) {
	ctx := context.Background()
	seedDocs(t, "docs_query", 5)

	sel := models.Selection{
		Collection:  "docs_query",
		Filter:      "kind = 'mixed'",
		PrimaryKey:  "id",
		MarkerField: "recast_job",
		JobID:       "job-1",
	}

	n, err := testDB.Count(ctx, sel)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	page, err := testDB.Query(ctx, sel, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "doc02", models.KeyString(page[0]["id"]))
	assert.Equal(t, "doc03", models.KeyString(page[1]["id"]))
}

func TestReplaceKeepsRowsInSelectionForSameJob(t *testing.T) {
	ctx := context.Background()
	seedDocs(t, "docs_replace", 3)

	sel := models.Selection{Collection: "docs_replace", PrimaryKey: "id", MarkerField: "recast_job", JobID: "job-1"}
	page, err := testDB.Query(ctx, sel, 0, 3)
	require.NoError(t, err)

	for _, r := range page {
		r["body"] = "rewritten"
		r["recast_job"] = "job-1"
	}
	require.NoError(t, testDB.Replace(ctx, "docs_replace", "id", page))

	n, err := testDB.Count(ctx, sel)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "rows marked by the running job stay selected")

	other := sel
	other.JobID = "job-2"
	n, err = testDB.Count(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "rows marked by an earlier job are excluded")

	again, err := testDB.Query(ctx, sel, 0, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "rewritten", again[0].Text("body"))
}

func TestDeleteThenInsert(t *testing.T) {
	ctx := context.Background()
	seedDocs(t, "docs_fallback", 2)

	sel := models.Selection{Collection: "docs_fallback", PrimaryKey: "id", MarkerField: "recast_job", JobID: "j"}
	page, err := testDB.Query(ctx, sel, 0, 2)
	require.NoError(t, err)

	keys := []any{page[0]["id"], page[1]["id"]}
	require.NoError(t, testDB.Delete(ctx, "docs_fallback", "id", keys))

	n, err := testDB.Count(ctx, sel)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, testDB.Insert(ctx, "docs_fallback", page))
	n, err = testDB.Count(ctx, sel)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPing(t *testing.T) {
	require.NoError(t, testDB.Ping(context.Background()))
}
