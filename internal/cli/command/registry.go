package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Commands returns the CLI commands in help order.
func Commands() []Command {
	return []Command{
		{
			Service:      "judge",
			Action:       "submit",
			Method:       http.MethodPost,
			PathTemplate: "/api/v1/judge/submissions",
			Usage:        "judge submit problem=sum lang=cpp file=./main.cpp",
			Fields: []Field{
				{Name: "problem_id", Aliases: []string{"problem"}, Prompt: "problem_id", Required: true},
				{Name: "submitter_id", Aliases: []string{"user", "submitter"}, Prompt: "submitter_id", Required: true},
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Required: true},
				{Name: "source_code", Aliases: []string{"code"}, Prompt: "source_code", Required: true, FromFile: "source_file"},
				{Name: "source_file", Aliases: []string{"file"}, Prompt: "source_file", Type: FieldFile},
			},
		},
		{
			Service:      "judge",
			Action:       "status",
			Method:       http.MethodGet,
			PathTemplate: "/api/v1/judge/submissions/:id",
			Usage:        "judge status [id=<submission_id>]",
			Fields: []Field{
				{Name: "id", Aliases: []string{"submission", "submission_id"}, Prompt: "submission_id", Required: true},
			},
		},
		{
			Service:      "judge",
			Action:       "wait",
			Method:       http.MethodGet,
			PathTemplate: "/api/v1/judge/submissions/:id",
			Usage:        "judge wait [id=<submission_id>]",
			Fields: []Field{
				{Name: "id", Aliases: []string{"submission", "submission_id"}, Prompt: "submission_id", Required: true},
			},
		},
		{
			Service:      "judge",
			Action:       "queue",
			Method:       http.MethodGet,
			PathTemplate: "/api/v1/judge/queue",
			Usage:        "judge queue",
		},
		{
			Service:      "judge",
			Action:       "languages",
			Method:       http.MethodGet,
			PathTemplate: "/api/v1/judge/languages",
			Usage:        "judge languages",
		},
		{
			Service:      "contest",
			Action:       "leaderboard",
			Method:       http.MethodGet,
			PathTemplate: "/api/v1/contests/:id/leaderboard",
			Usage:        "contest leaderboard id=<contest_id>",
			Fields: []Field{
				{Name: "id", Aliases: []string{"contest", "contest_id"}, Prompt: "contest_id", Required: true},
			},
		},
	}
}

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := Commands()
	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	var body []byte
	if cmd.Method != http.MethodGet && cmd.Method != http.MethodDelete {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	if strings.Contains(path, ":id") {
		value := strings.TrimSpace(params.Get("id"))
		if value == "" {
			return "", fmt.Errorf("missing path parameter: id")
		}
		path = strings.ReplaceAll(path, ":id", value)
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	if cmd.Key() == "judge submit" {
		return buildSubmitPayload(params)
	}
	return nil, nil
}

func buildSubmitPayload(params Params) (interface{}, error) {
	var err error
	sourceCode := params.Get("source_code")
	if (sourceCode == "" || sourceCode == fileMarker) && params.Get("source_file") != "" {
		sourceCode, err = ReadFile(params.Get("source_file"))
		if err != nil {
			return nil, err
		}
	}
	if sourceCode == "" || sourceCode == fileMarker {
		return nil, fmt.Errorf("source_code is required")
	}
	for _, key := range []string{"problem_id", "submitter_id", "language"} {
		if strings.TrimSpace(params.Get(key)) == "" {
			return nil, fmt.Errorf("%s is required", key)
		}
	}

	return map[string]string{
		"problem_id":   strings.TrimSpace(params.Get("problem_id")),
		"submitter_id": strings.TrimSpace(params.Get("submitter_id")),
		"language":     strings.TrimSpace(params.Get("language")),
		"source_code":  sourceCode,
	}, nil
}
