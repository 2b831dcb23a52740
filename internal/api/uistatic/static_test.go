package uistatic

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerServesChatPage(t *testing.T) {
	for _, path := range []string{"/", "/conversacion/123"} {
		rr := httptest.NewRecorder()
		Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "Nueva conversación") {
			t.Fatalf("GET %s did not return the chat page", path)
		}
	}
}

func TestHandlerServesAssets(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "/v1/sessions") {
		t.Fatal("unexpected app.js body")
	}
}

func TestHandlerMissingAssetIsNotFound(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing.js", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestHandlerDisablesCaching(t *testing.T) {
	for _, path := range []string{"/", "/index.html", "/app.css"} {
		rr := httptest.NewRecorder()
		Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if got := rr.Header().Get("Cache-Control"); got != "no-cache" {
			t.Fatalf("GET %s Cache-Control = %q", path, got)
		}
	}
}

func TestAppScriptLocksControlsAndReportsErrorsInSpanish(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	body := rr.Body.String()
	for _, want := range []string{
		"resetButton.disabled = value",
		"sendButton.disabled = value",
		"No se pudo contactar con el servidor",
		"El servidor no devolvió una respuesta válida",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("app.js missing %q", want)
		}
	}
	if strings.Contains(body, "String(err)") {
		t.Fatal("app.js shows raw client errors")
	}
}
