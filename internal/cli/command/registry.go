package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "auth",
			Action:       "register",
			Method:       "POST",
			PathTemplate: "/api/v1/auth/register",
			RequiresAuth: false,
			Fields: []Field{
				{Name: "username", Prompt: "username", Type: FieldString, Required: true},
				{Name: "password", Prompt: "password", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "auth",
			Action:       "login",
			Method:       "POST",
			PathTemplate: "/api/v1/auth/login",
			RequiresAuth: false,
			Fields: []Field{
				{Name: "username", Prompt: "username", Type: FieldString, Required: true},
				{Name: "password", Prompt: "password", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "submit",
			Action:       "create",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "problem_id", Prompt: "problem_id", Type: FieldString, Required: true},
				{Name: "language", Prompt: "language", Type: FieldString, Required: true},
				{Name: "code", Prompt: "code", Type: FieldString, Required: false},
				{Name: "code_file", Prompt: "code_file", Type: FieldFile, Required: false},
			},
		},
		{
			Service:      "submit",
			Action:       "status",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "submit",
			Action:       "log",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id/log",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "submit",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions",
			RequiresAuth: true,
			QueryFields:  []string{"user_id", "problem_id", "status", "page", "page_size"},
			Fields: []Field{
				{Name: "user_id", Prompt: "user_id", Type: FieldInt64, Required: false},
				{Name: "problem_id", Prompt: "problem_id", Type: FieldString, Required: false},
				{Name: "status", Prompt: "status (pending/success/error)", Type: FieldString, Required: false},
				{Name: "page", Prompt: "page", Type: FieldInt64, Required: false},
				{Name: "page_size", Prompt: "page_size", Type: FieldInt64, Required: false},
			},
		},
		{
			Service:      "submit",
			Action:       "rejudge",
			Method:       "PUT",
			PathTemplate: "/api/v1/submissions/:id/rejudge",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldString, Required: true},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		key := fmt.Sprintf("%s %s", cmd.Service, cmd.Action)
		result[key] = cmd
	}
	return result
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd, params)
	if err != nil {
		return RequestSpec{}, err
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
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

func buildPath(cmd Command, params Params) (string, error) {
	path := cmd.PathTemplate
	if strings.Contains(path, ":id") {
		value := params.Get("id")
		if value == "" {
			return "", fmt.Errorf("missing path parameter: id")
		}
		path = strings.ReplaceAll(path, ":id", url.PathEscape(value))
	}

	query := url.Values{}
	for _, name := range cmd.QueryFields {
		if value := params.Get(name); value != "" {
			query.Set(name, value)
		}
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	switch cmd.Service {
	case "auth":
		return map[string]string{
			"username": params.Get("username"),
			"password": params.Get("password"),
		}, nil
	case "submit":
		if cmd.Action == "create" {
			return buildSubmitCreatePayload(params)
		}
	}
	return nil, nil
}

func buildSubmitCreatePayload(params Params) (interface{}, error) {
	code := params.Get("code")
	if (code == "" || code == "_file_") && params.Get("code_file") != "" {
		var err error
		code, err = ReadFile(params.Get("code_file"))
		if err != nil {
			return nil, err
		}
	}
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}

	return map[string]interface{}{
		"problem_id": params.Get("problem_id"),
		"language":   params.Get("language"),
		"code":       code,
	}, nil
}
