package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/pkg/models"
)

func TestCleanupFlags_Options(t *testing.T) {
	tests := []struct {
		name    string
		flags   cleanupFlags
		kinds   []models.Kind
		country string
		wantErr bool
	}{
		{name: "all kinds", flags: cleanupFlags{kind: "all"}},
		{name: "one kind", flags: cleanupFlags{kind: "category"}, kinds: []models.Kind{models.KindCategory}},
		{name: "record filters imply records", flags: cleanupFlags{kind: "all", country: "de"}, kinds: []models.Kind{models.KindRecord}, country: "DE"},
		{name: "record type filter", flags: cleanupFlags{kind: "record", recordType: "municipality"}, kinds: []models.Kind{models.KindRecord}},
		{name: "unknown kind", flags: cleanupFlags{kind: "people"}, wantErr: true},
		{name: "threshold out of range", flags: cleanupFlags{kind: "all", threshold: 1.5}, wantErr: true},
		{name: "bad country", flags: cleanupFlags{kind: "all", country: "DEU"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := tt.flags.options()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kinds, opts.Kinds)
			assert.Equal(t, tt.country, opts.Country)
		})
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "cleanup", "migrate"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}

	cleanup, _, err := root.Find([]string{"cleanup"})
	require.NoError(t, err)
	for _, flag := range []string{"dry-run", "threshold", "type", "verbose", "country", "record-type"} {
		assert.NotNil(t, cleanup.Flags().Lookup(flag), flag)
	}
}
