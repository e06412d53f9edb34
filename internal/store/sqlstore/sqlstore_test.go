package sqlstore

import "testing"

func TestRebind(t *testing.T) {
	q := `UPDATE bots SET status = ?, process_id = ? WHERE id = ?;`
	pg := &DB{dialect: Dialect{Numbered: true}}
	if got := pg.rebind(q); got != `UPDATE bots SET status = $1, process_id = $2 WHERE id = $3;` {
		t.Fatalf("numbered rebind: %s", got)
	}
	lite := &DB{dialect: Dialect{}}
	if got := lite.rebind(q); got != q {
		t.Fatalf("sqlite rebind must be identity: %s", got)
	}
}

func TestEncodeConfig(t *testing.T) {
	if s, _ := encodeConfig(nil); s != "{}" {
		t.Fatalf("empty config: %q", s)
	}
	if s, _ := encodeConfig(map[string]any{"token": "x"}); s != `{"token":"x"}` {
		t.Fatalf("config: %q", s)
	}
	if _, err := encodeConfig(map[string]any{"bad": func() {}}); err == nil {
		t.Fatal("expected encode error")
	}
}
