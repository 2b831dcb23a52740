package nl2sql

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCleanSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT 1":                                      "SELECT 1",
		"```sql\nSELECT 1;\n```":                        "SELECT 1;",
		"```\nSELECT 1\n```":                            "SELECT 1",
		"SQLQuery: SELECT \"nombre\" FROM socios":       `SELECT "nombre" FROM socios`,
		"SELECT 1\nSQLResult: 1\nAnswer: uno":           "SELECT 1",
		"SQLQuery: ```sql\nSELECT 2\n```\nSQLResult: 2": "SELECT 2",
		"  \n ": "",
	}
	for input, want := range cases {
		if got := CleanSQL(input); got != want {
			t.Errorf("CleanSQL(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestSQLTranslatorRendersDialectPrompt(t *testing.T) {
	completer := &recordingCompleter{reply: "SQLQuery: SELECT SUM(\"saldo_ahorro\") FROM socios"}
	translator := NewSQLTranslator(completer)

	got, err := translator.Translate(context.Background(), Request{
		Question: "  ¿Cuál es el saldo total de ahorro?  ",
		Schema:   "CREATE TABLE \"socios\" (\n\t\"saldo_ahorro\" REAL\n)",
		Dialect:  "SQLite",
	})
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if got.SQL != `SELECT SUM("saldo_ahorro") FROM socios` {
		t.Fatalf("SQL = %q", got.SQL)
	}
	if got.Provider != "recording" || got.Model != "fake-model" {
		t.Fatalf("provider=%q model=%q", got.Provider, got.Model)
	}

	prompt := completer.last[0].Content
	for _, want := range []string{
		"You are a SQLite expert",
		"at most 5 results",
		"date('now')",
		`"saldo_ahorro" REAL`,
		"Question: ¿Cuál es el saldo total de ahorro?\nSQLQuery:",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestSQLTranslatorRejectsEmptyCompletion(t *testing.T) {
	translator := NewSQLTranslator(&recordingCompleter{reply: "```sql\n```"})
	if _, err := translator.Translate(context.Background(), Request{Question: "hola"}); err == nil {
		t.Fatal("expected error for empty SQL")
	}
}

func TestSQLTranslatorPropagatesModelError(t *testing.T) {
	boom := errors.New("model down")
	translator := NewSQLTranslator(&recordingCompleter{err: boom})
	_, err := translator.Translate(context.Background(), Request{Question: "hola", TopK: 3})
	if !errors.Is(err, boom) {
		t.Fatalf("Translate() error = %v", err)
	}
}

func TestPhraserUsesSpanishAnswerPrompt(t *testing.T) {
	completer := &recordingCompleter{reply: "El saldo total de ahorro es 3501.25."}
	phraser := NewPhraser(completer)

	got, err := phraser.Phrase(context.Background(), AnswerRequest{
		Question: "¿Cuál es el saldo total de ahorro?",
		SQL:      "SELECT SUM(saldo_ahorro) FROM socios",
		Result:   "3501.25",
	})
	if err != nil {
		t.Fatalf("Phrase() error = %v", err)
	}
	if got != "El saldo total de ahorro es 3501.25." {
		t.Fatalf("Phrase() = %q", got)
	}
	want := "Dada la siguiente pregunta del usuario, la consulta SQL correspondiente y el resultado SQL, formula una respuesta en español.\n\n" +
		"Pregunta: ¿Cuál es el saldo total de ahorro?\n" +
		"Consulta SQL: SELECT SUM(saldo_ahorro) FROM socios\n" +
		"Resultado SQL: 3501.25\n" +
		"Respuesta:"
	if completer.last[0].Content != want {
		t.Fatalf("prompt = %q", completer.last[0].Content)
	}
}

type recordingCompleter struct {
	reply string
	err   error
	last  []Message
}

func (c *recordingCompleter) Complete(_ context.Context, messages []Message) (string, error) {
	c.last = messages
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

func (c *recordingCompleter) Provider() string { return "recording" }

func (c *recordingCompleter) Model() string { return "fake-model" }
