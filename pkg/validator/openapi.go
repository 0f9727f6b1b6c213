package validator

import (
	_ "embed"
	"fmt"
	"sync"

	apperrors "skill-barter/messaging/pkg/errors"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
)

//go:embed openapi.yaml
var relaySchema []byte

// OpenAPIValidator validates requests against an OpenAPI document
type OpenAPIValidator struct {
	swagger *openapi3.T
	router  routers.Router
	mutex   sync.RWMutex
}

// Default returns a validator for the relay server's built-in schema.
func Default() (*OpenAPIValidator, error) {
	return New(relaySchema)
}

// New creates a validator from a YAML or JSON document.
func New(schema []byte) (*OpenAPIValidator, error) {
	swagger, router, err := load(schema)
	if err != nil {
		return nil, err
	}
	return &OpenAPIValidator{swagger: swagger, router: router}, nil
}

func load(schema []byte) (*openapi3.T, routers.Router, error) {
	loader := openapi3.NewLoader()
	swagger, err := loader.LoadFromData(schema)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load OpenAPI schema: %w", err)
	}
	if err := swagger.Validate(loader.Context); err != nil {
		return nil, nil, fmt.Errorf("invalid OpenAPI schema: %w", err)
	}

	router, err := gorillamux.NewRouter(swagger)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating OpenAPI router: %w", err)
	}
	return swagger, router, nil
}

// Reload swaps in a new schema.
func (v *OpenAPIValidator) Reload(schema []byte) error {
	swagger, router, err := load(schema)
	if err != nil {
		return err
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()

	v.swagger = swagger
	v.router = router
	return nil
}

// Paths returns the documented paths.
func (v *OpenAPIValidator) Paths() []string {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return v.swagger.Paths.InMatchingOrder()
}

// Middleware returns a Gin middleware that rejects requests violating the
// schema. Routes the schema does not describe pass through. Credentials
// are checked by the auth middleware, not here.
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		v.mutex.RLock()
		router := v.router
		v.mutex.RUnlock()

		route, pathParams, err := router.FindRoute(c.Request)
		if err != nil {
			c.Next()
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}

		if err := openapi3filter.ValidateRequest(c.Request.Context(), input); err != nil {
			c.Error(apperrors.BadRequest("INVALID_REQUEST", fmt.Sprintf("Invalid request: %v", err)).Wrap(err))
			c.Abort()
			return
		}

		c.Next()
	}
}
