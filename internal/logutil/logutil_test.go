package logutil

import (
	"strings"
	"testing"

	"github.com/tidwall/gjson"
	"pgregory.net/rapid"
)

func TestFormatHeadersForLog(t *testing.T) {
	t.Parallel()

	got := FormatHeadersForLog(map[string]string{
		"Content-Type":  "application/json",
		"authorization": "Bearer abc",
		"x-empty":       "",
		"Set-Cookie":    "JSESSIONID=1",
	})
	want := `authorization="[REDACTED]"; content-type="application/json"; set-cookie="[REDACTED]"; x-empty=<empty>`
	if got != want {
		t.Fatalf("FormatHeadersForLog =\n%s\nwant\n%s", got, want)
	}
	if FormatHeadersForLog(nil) != "{}" {
		t.Fatal("empty headers should format as {}")
	}
}

func TestSensitive(t *testing.T) {
	t.Parallel()

	for _, k := range []string{"Authorization", "X-Api-Key", "access_token", "CLAVE", "jsessionid", "sessionId"} {
		if !Sensitive(k) {
			t.Errorf("Sensitive(%q) = false", k)
		}
	}
	for _, k := range []string{"usuario", "ID_OPERACION", "content-type", "sucursal"} {
		if Sensitive(k) {
			t.Errorf("Sensitive(%q) = true", k)
		}
	}
}

func TestRedactBody_NestedJSON(t *testing.T) {
	t.Parallel()

	body := []byte(`{"data":{"usuario":"ana","password":"x","items":[{"token":"t"},{"a.token":"u"}]}}`)
	got := RedactBody("application/json; charset=utf-8", body)
	for _, secret := range []string{`"x"`, `"t"`, `"u"`} {
		if strings.Contains(got, secret) {
			t.Fatalf("secret %s leaked: %s", secret, got)
		}
	}
	if gjson.Get(got, "data.usuario").String() != "ana" {
		t.Fatalf("non-sensitive field lost: %s", got)
	}
	if gjson.Get(got, "data.items.0.token").String() != "[REDACTED]" {
		t.Fatalf("array element not redacted: %s", got)
	}
	if !strings.HasPrefix(got, `{"data":{"usuario":"ana","password"`) {
		t.Fatalf("key order changed: %s", got)
	}
}

func TestRedactBody_NonJSONUntouched(t *testing.T) {
	t.Parallel()

	body := []byte("password=hunter2")
	if got := RedactBody("text/plain", body); got != string(body) {
		t.Fatalf("text body changed: %q", got)
	}
	if got := RedactBody("application/json", []byte("{broken")); got != "{broken" {
		t.Fatalf("malformed json changed: %q", got)
	}
}

func testFormatBodyForLog_Bounded(t *rapid.T) {
	body := rapid.StringMatching(`[a-z ]{0,200}`).Draw(t, "body")
	max := rapid.IntRange(1, 100).Draw(t, "max")

	got := FormatBodyForLog("text/plain", []byte(body), max)
	if len(body) == 0 {
		if got != "" {
			t.Fatalf("empty body produced %q", got)
		}
		return
	}
	if len(got) > max+len(" [truncated]") {
		t.Fatalf("output %d bytes exceeds bound %d", len(got), max)
	}
	if len(body) <= max && got != body {
		t.Fatalf("short body altered: %q -> %q", body, got)
	}
}

func TestFormatBodyForLog_Bounded(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testFormatBodyForLog_Bounded)
}

func testRedactBody_NoSecretSurvives(t *rapid.T) {
	secret := rapid.StringMatching(`s[0-9]{6}`).Draw(t, "secret")
	plain := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "plain")
	key := rapid.SampledFrom([]string{"token", "password", "Authorization", "clave"}).Draw(t, "key")
	body := `{"nombre":"` + plain + `","nested":[{"` + key + `":"` + secret + `"}]}`

	got := RedactBody("application/json", []byte(body))
	if strings.Contains(got, secret) {
		t.Fatalf("secret survived: %s", got)
	}
	if gjson.Get(got, "nombre").String() != plain {
		t.Fatalf("plain field changed: %s", got)
	}
}

func TestRedactBody_NoSecretSurvives(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testRedactBody_NoSecretSurvives)
}
