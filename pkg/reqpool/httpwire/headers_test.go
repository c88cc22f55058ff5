package httpwire

import "testing"

func TestHeadersAddPreservesCaseAndOrder(t *testing.T) {
	h := NewHeaders(4)
	h.Add([]byte("Server"), []byte("nginx"))
	h.Add([]byte("Content-Encoding"), []byte("gzip"))
	h.Add([]byte("Set-Cookie"), []byte("a=1"))
	h.Add([]byte("Set-Cookie"), []byte("b=2"))

	if got := h.Len(); got != 4 {
		t.Fatalf("Len() = %d, want 4", got)
	}

	var order []string
	h.Each(func(name, value string) {
		order = append(order, name)
	})
	want := []string{"Server", "Content-Encoding", "Set-Cookie", "Set-Cookie"}
	for i, name := range want {
		if order[i] != name {
			t.Errorf("order[%d] = %q, want %q", i, order[i], name)
		}
	}
}

func TestHeadersGetIsCaseInsensitive(t *testing.T) {
	h := NewHeaders(1)
	h.Add([]byte("Content-Type"), []byte("text/html"))

	tests := []string{"content-type", "Content-Type", "CONTENT-TYPE"}
	for _, name := range tests {
		v, ok := h.Get(name)
		if !ok || v != "text/html" {
			t.Errorf("Get(%q) = (%q, %v), want (\"text/html\", true)", name, v, ok)
		}
	}

	if _, ok := h.Get("Missing"); ok {
		t.Error("Get(\"Missing\") reported present")
	}
}

func TestHeadersValuesAccumulates(t *testing.T) {
	h := NewHeaders(2)
	h.Add([]byte("Set-Cookie"), []byte("a=1"))
	h.Add([]byte("Set-Cookie"), []byte("b=2"))

	got := h.Values("set-cookie")
	if len(got) != 2 || got[0] != "a=1" || got[1] != "b=2" {
		t.Errorf("Values(\"set-cookie\") = %v, want [a=1 b=2]", got)
	}
}

func TestHeadersClone(t *testing.T) {
	h := NewHeaders(1)
	h.Add([]byte("X-A"), []byte("1"))

	clone := h.Clone()
	h.Add([]byte("X-B"), []byte("2"))

	if clone.Len() != 1 {
		t.Fatalf("clone.Len() = %d, want 1 (clone must not see later Adds)", clone.Len())
	}
}
