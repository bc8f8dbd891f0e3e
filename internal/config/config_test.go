package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestToFlag(t *testing.T) {
	t.Parallel()

	cases := []struct {
		key  string
		want string
	}{
		{key: "server.address", want: "address"},
		{key: "server.oidc.issuer_url", want: "oidc-issuer-url"},
		{key: "watch.backoff_base", want: "watch-backoff-base"},
		{key: "client.server_url", want: "server-url"},
	}

	for _, tc := range cases {
		if got := toFlag(tc.key); got != tc.want {
			t.Errorf("toFlag(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestOptions_UniqueFlags(t *testing.T) {
	t.Parallel()

	for name, options := range map[string][]Option{"server": ServerOptions, "client": ClientOptions} {
		seen := map[string]string{}
		for _, o := range options {
			if prev, ok := seen[o.Flag]; ok {
				t.Errorf("%s: flag %q used by %s and %s", name, o.Flag, prev, o.Key)
			}
			seen[o.Flag] = o.Key
		}
	}
}

func TestBindFlags_OverridesDefaults(t *testing.T) {
	t.Setenv("WATCHBRIDGE_WATCH_LISTENER_BUFFER", "64")

	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	if err := c.BindFlags(fs, ServerOptions); err != nil {
		t.Fatalf("BindFlags: %v", err)
	}

	if got := c.WatchBackoffBase(); got != time.Second {
		t.Errorf("WatchBackoffBase = %v, want 1s", got)
	}
	if got := c.WatchListenerBuffer(); got != 64 {
		t.Errorf("WatchListenerBuffer = %d, want 64 from env", got)
	}

	if err := fs.Parse([]string{"--address", ":9000", "--watch-backoff-max", "5s", "--allowed-origins", "a.example,b.example"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got := c.ServerAddress(); got != ":9000" {
		t.Errorf("ServerAddress = %q, want :9000", got)
	}
	if got := c.WatchBackoffMax(); got != 5*time.Second {
		t.Errorf("WatchBackoffMax = %v, want 5s", got)
	}
	if got := c.ServerAllowedOrigins(); len(got) != 2 {
		t.Errorf("ServerAllowedOrigins = %v, want two entries", got)
	}
	if got := c.ServerOIDCIssuerURL(); got != "" {
		t.Errorf("ServerOIDCIssuerURL = %q, want empty", got)
	}
}

func TestBindFlags_UnsupportedType(t *testing.T) {
	t.Parallel()

	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fs := pflag.NewFlagSet("bad", pflag.ContinueOnError)
	err = c.BindFlags(fs, []Option{{Key: "x.y", Flag: "y", Default: 1.5}})
	if err == nil {
		t.Fatal("expected error for float default")
	}
}
