package requestid

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareMintsIDWhenMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	Middleware()(c)

	id := Value(c)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, w.Header().Get(Header))
}

func TestMiddlewareKeepsCallerID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set(Header, "req-42")

	Middleware()(c)

	assert.Equal(t, "req-42", Value(c))
	assert.Equal(t, "req-42", w.Header().Get(Header))
}

func TestValueOutsideMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, Value(c))
}
