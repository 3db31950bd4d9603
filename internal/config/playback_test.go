package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cabreplay/internal/fsutil"
)

func TestDefaultPlaybackConfig(t *testing.T) {
	cfg := DefaultPlaybackConfig()
	require.NoError(t, cfg.Validate())

	empty := &PlaybackConfig{}
	assert.Equal(t, empty.GetIndexSuffix(), cfg.GetIndexSuffix())
	assert.Equal(t, empty.GetMaxIndexBytes(), cfg.GetMaxIndexBytes())
	assert.Equal(t, empty.GetStepInterval(), cfg.GetStepInterval())
	assert.Equal(t, empty.GetStrictRecords(), cfg.GetStrictRecords())
	assert.Equal(t, empty.GetLogLevel(), cfg.GetLogLevel())
	assert.Equal(t, empty.GetLogFormat(), cfg.GetLogFormat())
	assert.Equal(t, empty.GetHistoryDB(), cfg.GetHistoryDB())

	assert.Equal(t, "_index", cfg.GetIndexSuffix())
	assert.Equal(t, time.Second, cfg.GetStepInterval())
	assert.True(t, cfg.GetStrictRecords())
}

func TestLoadPlaybackConfig(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/etc/cabreplay.json", []byte(`{
  "index_suffix": ".idx",
  "step_interval": "250ms",
  "strict_records": false,
  "log_format": "JSON"
}`), 0644))

	cfg, err := LoadPlaybackConfig(mfs, "/etc/cabreplay.json")
	require.NoError(t, err)

	assert.Equal(t, ".idx", cfg.GetIndexSuffix())
	assert.Equal(t, 250*time.Millisecond, cfg.GetStepInterval())
	assert.False(t, cfg.GetStrictRecords())
	assert.Equal(t, "json", cfg.GetLogFormat())
	// omitted fields keep defaults
	assert.Equal(t, "info", cfg.GetLogLevel())
	assert.Equal(t, int64(64<<20), cfg.GetMaxIndexBytes())
}

func TestLoadPlaybackConfig_Errors(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	mfs.WriteFile("/c/bad.json", []byte(`{"step_interval": 5`), 0644)
	mfs.WriteFile("/c/invalid.json", []byte(`{"step_interval": "soon"}`), 0644)
	mfs.WriteFile("/c/big.json", []byte(strings.Repeat(" ", maxConfigFileSize+1)), 0644)
	mfs.WriteFile("/c/config.yaml", []byte(`{}`), 0644)

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"wrong extension", "/c/config.yaml", ".json extension"},
		{"missing", "/c/none.json", "failed to stat"},
		{"too large", "/c/big.json", "too large"},
		{"malformed", "/c/bad.json", "failed to parse"},
		{"invalid value", "/c/invalid.json", "invalid configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPlaybackConfig(mfs, tt.path)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PlaybackConfig
		wantErr bool
	}{
		{"empty", PlaybackConfig{}, false},
		{"zero interval", PlaybackConfig{StepInterval: ptrString("0s")}, false},
		{"negative interval", PlaybackConfig{StepInterval: ptrString("-1s")}, true},
		{"empty suffix", PlaybackConfig{IndexSuffix: ptrString("")}, true},
		{"zero max index", PlaybackConfig{MaxIndexBytes: ptrInt64(0)}, true},
		{"bad format", PlaybackConfig{LogFormat: ptrString("xml")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultPlaybackConfig()
	err := cfg.ApplyEnv(map[string]string{
		"CABREPLAY_STEP_INTERVAL":   "0s",
		"CABREPLAY_STRICT_RECORDS":  "false",
		"CABREPLAY_HISTORY_DB":      "/var/lib/cabreplay/history.db",
		"CABREPLAY_MAX_INDEX_BYTES": "1024",
		"STEP_INTERVAL":             "9s",
	})
	require.NoError(t, err)

	assert.Equal(t, time.Duration(0), cfg.GetStepInterval())
	assert.False(t, cfg.GetStrictRecords())
	assert.Equal(t, "/var/lib/cabreplay/history.db", cfg.GetHistoryDB())
	assert.Equal(t, int64(1024), cfg.GetMaxIndexBytes())
	// untouched
	assert.Equal(t, "_index", cfg.GetIndexSuffix())
}

func TestApplyEnv_LeavesUnsetFieldsNil(t *testing.T) {
	cfg := &PlaybackConfig{}
	require.NoError(t, cfg.ApplyEnv(map[string]string{"CABREPLAY_LOG_LEVEL": "debug"}))
	assert.Equal(t, "debug", cfg.GetLogLevel())
	assert.Nil(t, cfg.StepInterval)
}

func TestApplyEnv_Errors(t *testing.T) {
	cfg := DefaultPlaybackConfig()
	assert.ErrorContains(t, cfg.ApplyEnv(map[string]string{"CABREPLAY_STRICT_RECORDS": "maybe"}), "parse env")

	cfg = DefaultPlaybackConfig()
	assert.ErrorContains(t, cfg.ApplyEnv(map[string]string{"CABREPLAY_LOG_FORMAT": "xml"}), "invalid environment")
}
