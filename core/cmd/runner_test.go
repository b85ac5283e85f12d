package cmd

import (
	"context"
	"errors"
	"testing"
)

type appFunc func(ctx context.Context) error

func (f appFunc) Run(ctx context.Context) error { return f(ctx) }

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("STUDYBOT_CONFIG", "")
	cases := []struct {
		name string
		opts Options
		env  string
		want string
	}{
		{"flag wins", Options{ConfigPath: "flag.yaml", ConfigEnvVar: "STUDYBOT_CONFIG", DefaultConfigPath: "d.yaml"}, "env.yaml", "flag.yaml"},
		{"env next", Options{ConfigEnvVar: "STUDYBOT_CONFIG", DefaultConfigPath: "d.yaml"}, "env.yaml", "env.yaml"},
		{"default last", Options{ConfigEnvVar: "STUDYBOT_CONFIG", DefaultConfigPath: "d.yaml"}, "", "d.yaml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("STUDYBOT_CONFIG", tc.env)
			got, err := tc.opts.ResolveConfigPath()
			if err != nil || got != tc.want {
				t.Fatalf("got %q, %v", got, err)
			}
		})
	}
	if _, err := (Options{ConfigEnvVar: "STUDYBOT_CONFIG"}).ResolveConfigPath(); err == nil {
		t.Fatal("missing path must fail")
	}
}

func TestRunPassesPathAndError(t *testing.T) {
	boom := errors.New("boom")
	var loaded string
	shutdown := false
	err := Run(Options{
		ConfigPath: "c.yaml",
		Load: func(_ context.Context, path string) (App, error) {
			loaded = path
			return appFunc(func(context.Context) error { return boom }), nil
		},
		ShutdownLogger: func() error { shutdown = true; return nil },
	})
	if !errors.Is(err, boom) || loaded != "c.yaml" || !shutdown {
		t.Fatalf("err = %v, loaded = %q, shutdown = %v", err, loaded, shutdown)
	}
}

func TestRunLoadFailure(t *testing.T) {
	boom := errors.New("bad config")
	err := Run(Options{
		ConfigPath:     "c.yaml",
		Load:           func(context.Context, string) (App, error) { return nil, boom },
		ShutdownLogger: func() error { return nil },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}
