package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goflare.io/tierbench/internal/report"
	"goflare.io/tierbench/internal/worker"
	"goflare.io/tierbench/internal/workload"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := RootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

var fastRun = []string{
	"--mock", "--log-file=", "--log-level=error",
	"--duration=30ms", "--minute-tick=10ms", "--warmup-bars=50",
	"--compute-min=1ms", "--compute-max=2ms",
}

func TestGenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workload.yaml")
	out, err := execute(t, "generate", "--log-file=", "--workers=3", "--strategies=40", "--seed=9", "--out="+path)
	require.NoError(t, err)
	assert.Contains(t, out, "Strategies:          40")

	file, err := workload.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), file.Seed)
	assert.Equal(t, 3, file.Workers)
	assert.Len(t, file.Units, 40)
	assert.Equal(t, 40, file.Stats.Total)
}

func TestRun(t *testing.T) {
	for _, mode := range []string{"2-tier", "3-tier-sticky", "3-tier-shared"} {
		t.Run(mode, func(t *testing.T) {
			mr := miniredis.RunT(t)
			dir := t.TempDir()
			db := filepath.Join(dir, "runs.db")

			args := append([]string{"run"}, fastRun...)
			args = append(args,
				"--redis-addr="+mr.Addr(),
				"--cache-mode="+mode,
				"--workers=2", "--strategies=10",
				"--output="+dir, "--db="+db)
			out, err := execute(t, args...)
			require.NoError(t, err, out)
			assert.Contains(t, out, "Results saved to")
			assert.Contains(t, out, "Hit rate distributed_bulk:")
			if mode == "2-tier" {
				assert.Contains(t, out, "Hit rate distributed:")
			}

			store, err := report.OpenStore(db)
			require.NoError(t, err)
			defer store.Close()
			runs, err := store.List(0)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.Equal(t, mode, runs[0].CacheMode)
			assert.Equal(t, 2, runs[0].NumWorkers)
		})
	}
}

func TestRunFromPlanFile(t *testing.T) {
	dir := t.TempDir()
	plan := filepath.Join(dir, "workload.yaml")
	_, err := execute(t, "generate", "--log-file=", "--workers=2", "--strategies=6", "--seed=3", "--out="+plan)
	require.NoError(t, err)

	args := append([]string{"run"}, fastRun...)
	args = append(args, "--redis-addr=", "--cache-mode=3-tier-redundant", "--assignment=least_loaded",
		"--workers=2", "--plan="+plan, "--output="+dir, "--db=")
	out, err := execute(t, args...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "multiworker_2w_3-tier-redundant_least_loaded")
	assert.FileExists(t, filepath.Join(dir, "multiworker_2w_3-tier-redundant_least_loaded.json"))
}

func TestRunRejectsBadFlags(t *testing.T) {
	cases := [][]string{
		{"run", "--log-file=", "--cache-mode=4-tier"},
		{"run", "--log-file=", "--assignment=round_robin"},
		{"run", "--log-file=", "--workers=0"},
		{"run", "--log-file=", "--spawn=thread"},
		{"run", "--log-file=", "--redis-addr=", "--spawn=process", "--cache-mode=3-tier-shared"},
		{"run", "--log-file=", "--redis-addr=", "--spawn=process", "--cache-mode=2-tier"},
		{"run", "--log-file=", "--redis-addr=", "--spawn=process", "--cache-mode=3-tier-sticky"},
		{"run", "--log-file=", "--log-level=loud"},
	}
	for _, args := range cases {
		_, err := execute(t, args...)
		assert.Error(t, err, args)
	}
}

func TestForwardEnv(t *testing.T) {
	a := &app{v: viper.New()}
	a.v.Set(keyRedisAddr, "redis:6379")
	a.v.Set(keyMock, true)

	env := a.forwardEnv()
	assert.Len(t, env, len(forwardedKeys))
	assert.Contains(t, env, "TIERBENCH_REDIS_ADDR=redis:6379")
	assert.Contains(t, env, "TIERBENCH_MOCK=true")
	assert.Contains(t, env, "TIERBENCH_ORIGIN=")
}

func TestPrintFailures(t *testing.T) {
	var merr *multierror.Error
	merr = multierror.Append(merr,
		worker.NewWorkerError(0, errors.New("origin down")),
		worker.NewWorkerError(2, errors.New("redis down")))

	var buf bytes.Buffer
	printFailures(&buf, merr)
	out := buf.String()
	assert.Contains(t, out, "Errors occurred in 2 workers")
	assert.Contains(t, out, "Worker 0: origin down")
	assert.Contains(t, out, "Worker 2: redis down")
	assert.Contains(t, out, "cmd_test.go")
}
