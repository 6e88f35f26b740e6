// Package openapi builds the OpenAPI 3.1 document for the Kohaku API. The
// surface is fixed, so the document is assembled programmatically rather
// than maintained as a hand-edited file.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// Document returns the API description served at /openapi.json.
func Document() *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Kohaku API",
			Description: "Credential issuance, session tokens and notification routing for the Kohaku backend.",
			Version:     "1.0.0",
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}

	doc.Components.Schemas["Error"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"status":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
				"kind":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
				"message": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
			},
		},
	}
	doc.Components.Schemas["TokenResponse"] = objectSchema(map[string]*openapi3.Schema{
		"access_token":  {Type: &openapi3.Types{"string"}},
		"refresh_token": {Type: &openapi3.Types{"string"}},
		"token_type":    {Type: &openapi3.Types{"string"}},
		"expires_in":    {Type: &openapi3.Types{"integer"}},
	})
	doc.Components.Schemas["APIKey"] = objectSchema(map[string]*openapi3.Schema{
		"id":         {Type: &openapi3.Types{"integer"}, Format: "int64"},
		"key_prefix": {Type: &openapi3.Types{"string"}},
		"owner":      {Type: &openapi3.Types{"string"}},
		"scopes":     {Type: &openapi3.Types{"array"}, Items: stringItem()},
		"created_at": {Type: &openapi3.Types{"string"}, Format: "date-time"},
	})
	doc.Components.Schemas["NotificationCode"] = objectSchema(map[string]*openapi3.Schema{
		"code":        {Type: &openapi3.Types{"string"}},
		"last_used":   {Type: &openapi3.Types{"string"}, Format: "date-time"},
		"description": {Type: &openapi3.Types{"string"}},
	})
	doc.Components.Schemas["NotificationTarget"] = objectSchema(map[string]*openapi3.Schema{
		"id":         {Type: &openapi3.Types{"integer"}, Format: "int64"},
		"created_at": {Type: &openapi3.Types{"string"}, Format: "date-time"},
		"code":       {Type: &openapi3.Types{"string"}},
		"channel_id": {Type: &openapi3.Types{"integer"}, Format: "int64"},
		"guild_id":   {Type: &openapi3.Types{"integer"}, Format: "int64"},
		"format":     {Type: &openapi3.Types{"string"}},
	})

	doc.Paths = openapi3.NewPaths()

	doc.Paths.Set("/api/v1/auth/session", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"auth"},
			Summary:     "Exchange an API key for session tokens",
			Description: "Presents an API key in the X-API-Key header and receives an access/refresh token pair. The bootstrap key receives a short-lived key-management token instead.",
			OperationID: "login",
			Security:    security("apiKey"),
			Responses:   jsonResponses("200", "Session token pair", ref("TokenResponse")),
		},
	})
	doc.Paths.Set("/api/v1/auth/refresh", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"auth"},
			Summary:     "Exchange a refresh token for a new access token",
			OperationID: "refresh",
			Security:    security("bearerAuth"),
			Responses:   jsonResponses("200", "Fresh access token", ref("TokenResponse")),
		},
	})

	doc.Paths.Set("/api/v1/keys", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "List API keys",
			Description: "Returns stored key records. Hashes and plaintext are never included. Requires the keys:manage scope.",
			OperationID: "list_keys",
			Security:    security("bearerAuth"),
			Responses: jsonResponses("200", "Stored key records", arrayWrapper("keys", "APIKey")),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Create an API key",
			Description: "Mints a new key for an owner with a scope set. The plaintext key appears in this response exactly once. Requires the keys:manage scope.",
			OperationID: "create_key",
			Security:    security("bearerAuth"),
			RequestBody: jsonRequest(objectSchema(map[string]*openapi3.Schema{
				"owner":  {Type: &openapi3.Types{"string"}},
				"scopes": {Type: &openapi3.Types{"array"}, Items: stringItem()},
			})),
			Responses: jsonResponses("201", "Newly created key", objectSchema(map[string]*openapi3.Schema{
				"api_key":    {Type: &openapi3.Types{"string"}},
				"key_prefix": {Type: &openapi3.Types{"string"}},
				"owner":      {Type: &openapi3.Types{"string"}},
				"scopes":     {Type: &openapi3.Types{"array"}, Items: stringItem()},
			})),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Revoke an API key",
			Description: "Deletes the key matching the presented plaintext and invalidates its outstanding session tokens. Requires the keys:manage scope.",
			OperationID: "revoke_key",
			Security:    security("bearerAuth"),
			RequestBody: jsonRequest(objectSchema(map[string]*openapi3.Schema{
				"api_key": {Type: &openapi3.Types{"string"}},
			})),
			Responses: emptyResponses("204", "Key revoked"),
		},
	})

	doc.Paths.Set("/api/v1/notifications/codes", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"notifications"},
			Summary:     "List notification codes",
			OperationID: "list_codes",
			Security:    security("apiKey", "bearerAuth"),
			Responses:   jsonResponses("200", "Registered codes", arrayWrapper("codes", "NotificationCode")),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"notifications"},
			Summary:     "Register a notification code",
			OperationID: "register_code",
			Security:    security("apiKey", "bearerAuth"),
			RequestBody: jsonRequest(objectSchema(map[string]*openapi3.Schema{
				"code":        {Type: &openapi3.Types{"string"}},
				"description": {Type: &openapi3.Types{"string"}},
			})),
			Responses: jsonResponses("201", "Registered code", ref("NotificationCode")),
		},
	})
	doc.Paths.Set("/api/v1/notifications/codes/{code}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{
			{Value: &openapi3.Parameter{
				Name: "code", In: "path", Required: true,
				Schema: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
			}},
		},
		Get: &openapi3.Operation{
			Tags:        []string{"notifications"},
			Summary:     "Get one notification code",
			OperationID: "get_code",
			Security:    security("apiKey", "bearerAuth"),
			Responses:   jsonResponses("200", "Registered code", ref("NotificationCode")),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"notifications"},
			Summary:     "Unregister a notification code",
			Description: "Removes a code and every subscription to it.",
			OperationID: "unregister_code",
			Security:    security("apiKey", "bearerAuth"),
			Responses:   emptyResponses("204", "Code removed"),
		},
	})

	doc.Paths.Set("/api/v1/notifications/subscriptions", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"notifications"},
			Summary:     "List subscriptions",
			Description: "Filters by code, channel_id and guild_id query parameters. At least one must be given.",
			OperationID: "list_subscriptions",
			Security:    security("apiKey", "bearerAuth"),
			Parameters: openapi3.Parameters{
				{Value: &openapi3.Parameter{Name: "code", In: "query",
					Schema: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}}},
				{Value: &openapi3.Parameter{Name: "channel_id", In: "query",
					Schema: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}}}},
				{Value: &openapi3.Parameter{Name: "guild_id", In: "query",
					Schema: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}}}},
			},
			Responses: jsonResponses("200", "Matching subscriptions", arrayWrapper("subscriptions", "NotificationTarget")),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"notifications"},
			Summary:     "Subscribe a channel to a code",
			OperationID: "subscribe",
			Security:    security("apiKey", "bearerAuth"),
			RequestBody: jsonRequest(objectSchema(map[string]*openapi3.Schema{
				"code":       {Type: &openapi3.Types{"string"}},
				"channel_id": {Type: &openapi3.Types{"integer"}, Format: "int64"},
				"guild_id":   {Type: &openapi3.Types{"integer"}, Format: "int64"},
				"format":     {Type: &openapi3.Types{"string"}},
			})),
			Responses: jsonResponses("201", "New subscription", ref("NotificationTarget")),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"notifications"},
			Summary:     "Remove a subscription",
			OperationID: "unsubscribe",
			Security:    security("apiKey", "bearerAuth"),
			RequestBody: jsonRequest(objectSchema(map[string]*openapi3.Schema{
				"code":       {Type: &openapi3.Types{"string"}},
				"channel_id": {Type: &openapi3.Types{"integer"}, Format: "int64"},
				"guild_id":   {Type: &openapi3.Types{"integer"}, Format: "int64"},
			})),
			Responses: emptyResponses("204", "Subscription removed"),
		},
	})

	doc.Paths.Set("/api/v1/notifications/dispatch", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"notifications"},
			Summary:     "Dispatch an event to subscribed targets",
			OperationID: "dispatch",
			Security:    security("apiKey", "bearerAuth"),
			RequestBody: jsonRequest(objectSchema(map[string]*openapi3.Schema{
				"code":             {Type: &openapi3.Types{"string"}},
				"triggering_event": {Type: &openapi3.Types{"string"}},
				"embed":            {Type: &openapi3.Types{"object"}},
				"message":          {Type: &openapi3.Types{"string"}},
			})),
			Responses: emptyResponses("202", "Event accepted"),
		},
	})

	return doc
}

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func stringItem() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}
}

func objectSchema(props map[string]*openapi3.Schema) *openapi3.SchemaRef {
	schemas := openapi3.Schemas{}
	for name, schema := range props {
		schemas[name] = &openapi3.SchemaRef{Value: schema}
	}
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: schemas,
		},
	}
}

// arrayWrapper builds {"<key>": [<Component>...]} response schemas.
func arrayWrapper(key, component string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				key: &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: ref(component),
					},
				},
			},
		},
	}
}

func security(schemes ...string) *openapi3.SecurityRequirements {
	reqs := openapi3.NewSecurityRequirements()
	for _, scheme := range schemes {
		reqs.With(openapi3.SecurityRequirement{scheme: {}})
	}
	return reqs
}

func jsonRequest(schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Required: true,
			Content:  openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
}

// jsonResponses pairs one success response with the standard error set.
func jsonResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := errorResponses()
	desc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &desc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})
	return responses
}

// emptyResponses is jsonResponses for success statuses with no body.
func emptyResponses(statusCode, description string) *openapi3.Responses {
	responses := errorResponses()
	desc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{Description: &desc},
	})
	return responses
}

func errorResponses() *openapi3.Responses {
	responses := openapi3.NewResponses()
	errorRef := ref("Error")
	for code, desc := range map[string]string{
		"400": "Bad request",
		"401": "Unauthorized",
		"403": "Forbidden",
		"404": "Not found",
		"409": "Conflict",
		"500": "Internal server error",
	} {
		d := desc
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &d,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}
