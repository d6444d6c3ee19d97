package incident

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
	"incidents": [
		{
			"id": "incident-001",
			"name": "Bridge drain",
			"blockchain": "ethereum",
			"addresses": [
				"0x1111111111111111111111111111111111111111",
				{"address": "0x2222222222222222222222222222222222222222", "blockchain": "BSC"}
			],
			"transaction_ids": ["0xabc"],
			"description": "Funds drained from a bridge contract",
			"network_depth": 2,
			"screen_for_sanctions": ["0x1111111111111111111111111111111111111111"]
		},
		{"id": "broken", "blockchain": "ethereum", "addresses": []},
		{"id": "typed-wrong", "blockchain": "ethereum", "addresses": 7},
		{"id": "incident-001", "blockchain": "ethereum", "addresses": ["0xdup"]},
		{"id": "incident-002", "blockchain": "bsc", "addresses": ["0x3333333333333333333333333333333333333333"]}
	]
}`

func writeIncidents(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestStore_GetJSON(t *testing.T) {
	s := NewStore(writeIncidents(t, "addresses.json", sampleJSON), nil)

	inc, err := s.Get("incident-001")
	require.NoError(t, err)
	assert.Equal(t, "Bridge drain", inc.Title())
	assert.Equal(t, "Funds drained from a bridge contract", inc.Description)
	assert.Equal(t, 2, inc.NetworkDepth)
	require.Len(t, inc.Addresses, 2)
	assert.Equal(t, "ethereum", inc.ChainFor(inc.Addresses[0]))
	assert.Equal(t, "bsc", inc.ChainFor(inc.Addresses[1]))
	assert.Equal(t, []string{
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222",
	}, inc.SeedAddresses())
}

func TestStore_SkipsMalformedRecords(t *testing.T) {
	s := NewStore(writeIncidents(t, "addresses.json", sampleJSON), nil)

	all, err := s.All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "incident-001", all[0].ID)
	assert.Equal(t, "incident-002", all[1].ID)
	assert.Len(t, all[0].Addresses, 2, "duplicate id must not replace the first record")

	_, err = s.Get("broken")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_UnknownID(t *testing.T) {
	s := NewStore(writeIncidents(t, "addresses.json", sampleJSON), nil)
	_, err := s.Get("incident-999")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "incident-999")
}

func TestStore_First(t *testing.T) {
	s := NewStore(writeIncidents(t, "addresses.json", sampleJSON), nil)
	inc, err := s.First()
	require.NoError(t, err)
	assert.Equal(t, "incident-001", inc.ID)

	empty := NewStore(writeIncidents(t, "empty.json", `{"incidents": []}`), nil)
	_, err = empty.First()
	assert.True(t, errors.Is(err, ErrEmpty))
}

func TestStore_YAML(t *testing.T) {
	s := NewStore(writeIncidents(t, "incidents.yaml", `
incidents:
  - id: incident-yaml
    blockchain: ethereum
    addresses:
      - 0x4444444444444444444444444444444444444444
      - address: 0x5555555555555555555555555555555555555555
        blockchain: bsc
    description: yaml record
`), nil)
	inc, err := s.Get("incident-yaml")
	require.NoError(t, err)
	require.Len(t, inc.Addresses, 2)
	assert.Equal(t, "bsc", inc.Addresses[1].Blockchain)
	assert.Equal(t, "incident-yaml", inc.Title())
}

func TestStore_MissingFileErrorsOnEveryAccess(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing.json"), nil)
	_, err := s.Get("incident-001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read incidents")

	_, err = s.All()
	require.Error(t, err)
}

func TestStore_LazyLoadAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addresses.json")
	s := NewStore(path, nil)

	// Constructing the store must not touch the file.
	require.NoError(t, os.WriteFile(path, []byte(sampleJSON), 0o644))
	_, err := s.Get("incident-002")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"incidents": [
		{"id": "incident-003", "blockchain": "ethereum", "addresses": ["0x6666666666666666666666666666666666666666"]}
	]}`), 0o644))
	_, err = s.Get("incident-003")
	assert.True(t, errors.Is(err, ErrNotFound), "snapshot is kept until Reload")

	require.NoError(t, s.Reload())
	_, err = s.Get("incident-003")
	assert.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	assert.Error(t, s.Reload())
	_, err = s.Get("incident-003")
	assert.NoError(t, err, "failed reload keeps the previous snapshot")
}

func TestStore_WatchPicksUpRewrites(t *testing.T) {
	path := writeIncidents(t, "addresses.json", sampleJSON)
	s := NewStore(path, nil)
	_, err := s.Get("incident-001")
	require.NoError(t, err)

	stop, err := s.Watch()
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"incidents": [
		{"id": "incident-007", "blockchain": "ethereum", "addresses": ["0x7777777777777777777777777777777777777777"]}
	]}`), 0o644))

	require.Eventually(t, func() bool {
		_, err := s.Get("incident-007")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "watcher reloads the rewritten file")
	_, err = s.Get("incident-001")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_WatchMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing.json"), nil)
	stop, err := s.Watch()
	require.Error(t, err)
	assert.Nil(t, stop)
	assert.Contains(t, err.Error(), "incident watcher add")
}

func TestIncident_Validate(t *testing.T) {
	inc := Incident{Addresses: []Seed{{Address: ""}}, NetworkDepth: -1}
	err := inc.validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRecord))
	for _, want := range []string{"id is required", "blockchain is required", "addresses[0] is empty", "network_depth"} {
		assert.Contains(t, err.Error(), want)
	}
}
