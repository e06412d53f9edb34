package factory

import (
	"path/filepath"
	"testing"

	"github.com/loykin/botvisr/internal/history/opensearch"
)

func TestFactoryDSNTypes(t *testing.T) {
	tests := []struct {
		name        string
		dsn         string
		expectError bool
	}{
		{"Empty DSN", "", true},
		{"Invalid scheme", "invalid://test", true},
		{"OpenSearch without host", "opensearch:///idx", true},
		{"SQLite file DSN", "sqlite://" + filepath.Join(t.TempDir(), "h.db"), false},
		{"SQLite memory DSN", "sqlite://:memory:", false},
		{"Bare path", filepath.Join(t.TempDir(), "bare.db"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewSinkFromDSN(tt.dsn)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error for DSN %q, got nil", tt.dsn)
				}
				return
			}
			if err != nil || sink == nil {
				t.Fatalf("DSN %q: sink=%v err=%v", tt.dsn, sink, err)
			}
			if closer, ok := sink.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
		})
	}

	s, err := NewSinkFromDSN("opensearch://localhost:9200/logs")
	if err != nil {
		t.Fatalf("opensearch: %v", err)
	}
	if _, ok := s.(*opensearch.Sink); !ok {
		t.Fatalf("opensearch dsn returned %T", s)
	}
}

func TestParseClickHouseDSN(t *testing.T) {
	o, err := ParseClickHouseDSN("clickhouse://user:secret@ch:9440/analytics?table=events")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if o.Addr != "ch:9440" || o.Database != "analytics" || o.Table != "events" || o.Username != "user" || o.Password != "secret" {
		t.Fatalf("unexpected options: %+v", o)
	}
	o, err = ParseClickHouseDSN("clickhouse://")
	if err != nil {
		t.Fatalf("parse default: %v", err)
	}
	if o.Addr != "localhost:9000" {
		t.Fatalf("default addr: %q", o.Addr)
	}
}

func TestParseOpenSearchDSN(t *testing.T) {
	base, idx, err := ParseOpenSearchDSN("opensearch://search:9200/bots?tls=true")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if base != "https://search:9200" || idx != "bots" {
		t.Fatalf("got %s %s", base, idx)
	}
	_, idx, _ = ParseOpenSearchDSN("opensearch://search:9200")
	if idx != "bot-history" {
		t.Fatalf("default index: %s", idx)
	}
}
