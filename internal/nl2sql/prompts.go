package nl2sql

import (
	"fmt"

	"github.com/tmc/langchaingo/prompts"
)

const sqlPromptTemplate = `You are a {{.dialect}} expert. Given an input question, create a syntactically correct {{.dialect}} query to run.
Unless the user specifies in the question a specific number of examples to obtain, query for at most {{.top_k}} results using the LIMIT clause as per {{.dialect}}. You can order the results to return the most informative data in the database.
Never query for all columns from a table. You must query only the columns that are needed to answer the question. Wrap each column name in double quotes (") to denote them as delimited identifiers.
Pay attention to use only the column names you can see in the tables below. Be careful to not query for columns that do not exist. Also, pay attention to which column is in which table.
{{.date_hint}}
Return only the SQL query, without markdown and without explanation.

Only use the following tables:
{{.table_info}}

Question: {{.question}}
SQLQuery: `

const answerPromptTemplate = `Dada la siguiente pregunta del usuario, la consulta SQL correspondiente y el resultado SQL, formula una respuesta en español.

Pregunta: {{.question}}
Consulta SQL: {{.query}}
Resultado SQL: {{.result}}
Respuesta:`

var (
	sqlPrompt    = prompts.NewPromptTemplate(sqlPromptTemplate, []string{"dialect", "top_k", "date_hint", "table_info", "question"})
	answerPrompt = prompts.NewPromptTemplate(answerPromptTemplate, []string{"question", "query", "result"})
)

var dateHints = map[string]string{
	"SQLite":     `Pay attention to use date('now') function to get the current date, if the question involves "today".`,
	"DuckDB":     `Pay attention to use current_date to get the current date, if the question involves "today".`,
	"PostgreSQL": `Pay attention to use CURRENT_DATE function to get the current date, if the question involves "today".`,
}

func renderSQLPrompt(dialect string, topK int, schema, question string) (string, error) {
	out, err := sqlPrompt.Format(map[string]any{
		"dialect":    dialect,
		"top_k":      topK,
		"date_hint":  dateHints[dialect],
		"table_info": schema,
		"question":   question,
	})
	if err != nil {
		return "", fmt.Errorf("render sql prompt: %w", err)
	}
	return out, nil
}

func renderAnswerPrompt(question, query, result string) (string, error) {
	out, err := answerPrompt.Format(map[string]any{
		"question": question,
		"query":    query,
		"result":   result,
	})
	if err != nil {
		return "", fmt.Errorf("render answer prompt: %w", err)
	}
	return out, nil
}
