package migrations

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/edgelink?sslmode=disable", driverURL("postgres://u:p@db:5432/edgelink?sslmode=disable"))
	assert.Equal(t, "pgx5://u:p@db/edgelink", driverURL("postgresql://u:p@db/edgelink"))
	assert.Equal(t, "pgx5://db/edgelink", driverURL("pgx5://db/edgelink"))
}

func TestSource_EveryVersionHasUpAndDown(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	defer src.Close()

	var versions []uint
	version, err := src.First()
	for err == nil {
		versions = append(versions, version)

		up, _, upErr := src.ReadUp(version)
		require.NoError(t, upErr, "version %d up", version)
		body, _ := io.ReadAll(up)
		up.Close()
		assert.NotEmpty(t, strings.TrimSpace(string(body)))

		down, _, downErr := src.ReadDown(version)
		require.NoError(t, downErr, "version %d down", version)
		down.Close()

		version, err = src.Next(version)
	}

	assert.Equal(t, []uint{1, 2}, versions)
}

func TestSource_ClickEventColumnsAreUnbounded(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	defer src.Close()

	up, _, err := src.ReadUp(2)
	require.NoError(t, err)
	defer up.Close()
	body, err := io.ReadAll(up)
	require.NoError(t, err)

	for _, column := range []string{"destination", "country", "city", "routing_rule_matched"} {
		assert.Contains(t, string(body), "ALTER COLUMN "+column)
	}
}
