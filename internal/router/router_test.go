package router

import (
	"testing"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/stretchr/testify/assert"
)

func requestWithOrigin(origin string) *app.RequestContext {
	c := app.NewContext(0)
	if origin != "" {
		c.Request.Header.Set("Origin", origin)
	}
	return c
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{"no origin header", "", nil, true},
		{"nothing configured", "https://evil.example", nil, false},
		{"listed origin", "https://app.amora.dev", []string{"https://APP.amora.dev"}, true},
		{"unlisted origin", "https://evil.example", []string{"https://app.amora.dev"}, false},
		{"wildcard", "https://anything.example", []string{"https://app.amora.dev", "*"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checkOrigin(requestWithOrigin(tt.origin), tt.allowed))
		})
	}
}
