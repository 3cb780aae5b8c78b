//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"gonum.org/v1/gonum/mat"

	"github.com/couchcryptid/gprof-ar-grid/internal/domain"
)

const kafkaImage = "confluentinc/confluent-local:7.5.0"

// scanStart is the first scan time of the mock swath fixture.
var scanStart = time.Date(2024, time.February, 1, 12, 0, 0, 0, time.UTC)

// startKafka runs a single-node KRaft broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	ctr, err := tckafka.Run(ctx, kafkaImage, tckafka.WithClusterID("gprof-ar-grid-test"))
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err, "start kafka container")

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrlConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrlConn.Close()

	require.NoError(t, ctrlConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// loadMockData returns the raw swath records of the pipeline fixture.
func loadMockData(t *testing.T) []json.RawMessage {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "pipeline", "testdata", "mock_swaths.json"))
	require.NoError(t, err)

	var records []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &records))
	return records
}

// newMockEngine builds an Atlantic engine whose 12Z timestep flags cell
// (20, 159) as AR and whose 18Z timestep flags nothing.
func newMockEngine(t *testing.T) (*domain.Grid, *domain.Engine) {
	t.Helper()
	g, err := domain.NewGrid(domain.RegionAtlantic)
	require.NoError(t, err)

	flags12 := mat.NewDense(g.Rows(), g.Cols(), nil)
	flags12.Set(20, 159, domain.ARPresent)
	flags18 := mat.NewDense(g.Rows(), g.Cols(), nil)
	ref, err := domain.NewReferenceDataset(
		[]time.Time{scanStart, scanStart.Add(6 * time.Hour)},
		[]*mat.Dense{flags12, flags18},
	)
	require.NoError(t, err)

	e, err := domain.NewEngine(g, ref)
	require.NoError(t, err)
	return g, e
}
