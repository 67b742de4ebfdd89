package config

import (
	"strings"
	"time"
)

const (
	serverURLVar      = "AUTHFORGE_URL"
	namespaceVar      = "AUTHFORGE_NAMESPACE"
	mockServerAddrVar = "AUTHFORGE_MOCK_ADDR"
)

type Client struct {
	file *File
}

var _ ClientConfig = Client{}

// GetServerURL returns the scheme and host of the AuthForge service, without a trailing slash.
func (c Client) GetServerURL() string {
	url := lookup(serverURLVar, c.file.value(func(f *File) string { return f.ServerURL }), "http://localhost:8080")
	return strings.TrimRight(url, "/")
}

// GetNamespace returns the prefix of the persisted session keys.
func (c Client) GetNamespace() string {
	return lookup(namespaceVar, c.file.value(func(f *File) string { return f.Namespace }), "authforge")
}

// GetMockServerAddr is the listen address of `authforge mock-server`.
func (c Client) GetMockServerAddr() string {
	return lookup(mockServerAddrVar, c.file.value(func(f *File) string { return f.MockServerAddr }), ":8080")
}

func (Client) GetShutdownTimeout() time.Duration {
	return 5 * time.Second
}
