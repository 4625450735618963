package openapi

import (
	"net/http"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
)

const (
	errorSchema = "ErrorResponse"
	bearerAuth  = "bearerAuth"
)

// GenerateAdminSpec returns the OpenAPI 3 description of the admin auth API
// and the operational endpoints.
func GenerateAdminSpec(baseURL, version string) *openapi3.T {
	if version == "" {
		version = "dev"
	}
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Moonshot Command Center Admin API",
			Description: "Admin authentication and password reset for the Moonshot lead-intake backend.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
		Paths: openapi3.NewPaths(),
	}

	components := openapi3.NewComponents()
	components.Schemas = schemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		bearerAuth: &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:        "http",
				Scheme:      "bearer",
				Description: "Session token returned by POST /api/admin/login.",
			},
		},
	}
	doc.Components = &components

	addAdminPaths(doc)
	addSystemPaths(doc)
	return doc
}

func schemas() openapi3.Schemas {
	str := openapi3.NewStringSchema
	boolean := openapi3.NewBoolSchema

	return openapi3.Schemas{
		errorSchema: openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
			WithProperty("error", openapi3.NewObjectSchema().
				WithProperty("code", openapi3.NewInt32Schema()).
				WithProperty("message", str()))),
		"LoginRequest": openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
			WithProperty("password", str()).
			WithRequired([]string{"password"})),
		"LoginResponse": openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
			WithProperty("success", boolean()).
			WithProperty("token", str()).
			WithProperty("expiresIn", openapi3.NewInt64Schema())),
		"SessionStatus": openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
			WithProperty("authenticated", boolean())),
		"SuccessResponse": openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
			WithProperty("success", boolean())),
		"DispatchResponse": openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
			WithProperty("success", boolean()).
			WithProperty("sent", boolean())),
		"ChangePasswordRequest": openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
			WithProperty("password", str().WithMinLength(8)).
			WithRequired([]string{"password"})),
		"ResetConfirmRequest": openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
			WithProperty("token", str()).
			WithProperty("newPassword", str().WithMinLength(8)).
			WithRequired([]string{"token", "newPassword"})),
		"EmptyRequest": openapi3.NewSchemaRef("", openapi3.NewObjectSchema()),
		"HealthStatus": openapi3.NewSchemaRef("", openapi3.NewObjectSchema().
			WithProperty("status", str()).
			WithProperty("checks", openapi3.NewObjectSchema().WithAdditionalProperties(str()))),
	}
}

func addAdminPaths(doc *openapi3.T) {
	c := doc.Components.Schemas

	doc.Paths.Set("/api/admin/login", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "adminLogin",
			Tags:        []string{"admin"},
			Summary:     "Exchange the admin password for a session token",
			RequestBody: jsonBody(c, "LoginRequest", true),
			Responses:   newResponses(c, http.StatusOK, "Session token issued", "LoginResponse", 400, 401, 429, 500),
		},
	})

	doc.Paths.Set("/api/admin/me", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "adminSession",
			Tags:        []string{"admin"},
			Summary:     "Report whether the bearer token is a valid session",
			Responses:   newResponses(c, http.StatusOK, "Session status", "SessionStatus", 500),
		},
	})

	doc.Paths.Set("/api/admin/logout", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "adminLogout",
			Tags:        []string{"admin"},
			Summary:     "Acknowledge logout; clients discard their token",
			Responses:   newResponses(c, http.StatusOK, "Logged out", "SuccessResponse"),
		},
	})

	doc.Paths.Set("/api/admin/password", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "adminChangePassword",
			Tags:        []string{"admin"},
			Summary:     "Replace the admin password",
			Security:    &openapi3.SecurityRequirements{{bearerAuth: []string{}}},
			RequestBody: jsonBody(c, "ChangePasswordRequest", true),
			Responses:   newResponses(c, http.StatusOK, "Password changed", "SuccessResponse", 400, 401, 500),
		},
	})

	doc.Paths.Set("/api/admin/password-reset/request", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "adminRequestPasswordReset",
			Tags:        []string{"password-reset"},
			Summary:     "Email a single-use reset link to the support address",
			Description: "Always answers 200. The sent flag reports whether the relay accepted the email.",
			RequestBody: jsonBody(c, "EmptyRequest", false),
			Responses:   newResponses(c, http.StatusOK, "Request accepted", "DispatchResponse", 429),
		},
	})

	doc.Paths.Set("/api/admin/password-reset/confirm", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "adminConfirmPasswordReset",
			Tags:        []string{"password-reset"},
			Summary:     "Redeem a reset token and set a new password",
			RequestBody: jsonBody(c, "ResetConfirmRequest", true),
			Responses:   newResponses(c, http.StatusOK, "Password reset", "SuccessResponse", 400, 429, 500),
		},
	})

	doc.Paths.Set("/api/admin/access-recovery", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "adminAccessRecovery",
			Tags:        []string{"password-reset"},
			Summary:     "Email recovery instructions to the support address",
			RequestBody: jsonBody(c, "EmptyRequest", false),
			Responses:   newResponses(c, http.StatusOK, "Request accepted", "DispatchResponse", 429),
		},
	})
}

func addSystemPaths(doc *openapi3.T) {
	c := doc.Components.Schemas

	doc.Paths.Set("/healthz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "healthz",
			Tags:        []string{"system"},
			Summary:     "Liveness check",
			Responses:   newResponses(c, http.StatusOK, "Process is up", "HealthStatus"),
		},
	})
	readyz := newResponses(c, http.StatusOK, "Ready to serve", "HealthStatus")
	degraded := "Database unreachable"
	readyz.Set("503", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &degraded,
			Content:     openapi3.NewContentWithJSONSchemaRef(ref(c, "HealthStatus")),
		},
	})
	doc.Paths.Set("/readyz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "readyz",
			Tags:        []string{"system"},
			Summary:     "Readiness check against the database",
			Responses:   readyz,
		},
	})

	metricsDesc := "Prometheus exposition format"
	doc.Paths.Set("/metrics", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "metrics",
			Tags:        []string{"system"},
			Summary:     "Prometheus metrics",
			Responses: openapi3.NewResponses(openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{
				Value: &openapi3.Response{
					Description: &metricsDesc,
					Content:     openapi3.NewContentWithSchema(openapi3.NewStringSchema(), []string{"text/plain"}),
				},
			})),
		},
	})
}

// ref points at a component schema and carries its value so the document
// validates without a loader pass.
func ref(c openapi3.Schemas, name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, c[name].Value)
}

func jsonBody(c openapi3.Schemas, name string, required bool) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: openapi3.NewRequestBody().
			WithRequired(required).
			WithContent(openapi3.NewContentWithJSONSchemaRef(ref(c, name))),
	}
}

var statusDescriptions = map[int]string{
	400: "Bad request",
	401: "Unauthorized",
	429: "Too many requests",
	500: "Internal server error",
}

// newResponses builds the success response and the listed error responses.
func newResponses(c openapi3.Schemas, status int, description, schema string, errorCodes ...int) *openapi3.Responses {
	successDesc := description
	responses := openapi3.NewResponses(openapi3.WithStatus(status, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(ref(c, schema)),
		},
	}))

	for _, code := range errorCodes {
		desc := statusDescriptions[code]
		responses.Set(strconv.Itoa(code), &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(ref(c, errorSchema)),
			},
		})
	}
	return responses
}
