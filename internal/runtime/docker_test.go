package runtime

import (
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
)

func TestSplitConfigFiles(t *testing.T) {
	assert.Nil(t, splitConfigFiles(""))
	assert.Equal(t, []string{"/a/docker-compose.yml"}, splitConfigFiles("/a/docker-compose.yml"))
	assert.Equal(t,
		[]string{"/a/docker-compose.yml", "/a/docker-compose.override.yml"},
		splitConfigFiles("/a/docker-compose.yml, /a/docker-compose.override.yml"))
	assert.Equal(t, []string{"/a/x.yml"}, splitConfigFiles(" /a/x.yml , "))
}

func TestFormatPorts(t *testing.T) {
	got := formatPorts([]container.Port{
		{IP: "0.0.0.0", PrivatePort: 80, PublicPort: 8080, Type: "tcp"},
		{PrivatePort: 5432, PublicPort: 5432, Type: "tcp"},
		{PrivatePort: 9000, Type: "tcp"},
	})
	assert.Equal(t, []string{
		"0.0.0.0:8080->80/tcp",
		"5432->5432/tcp",
		"9000/tcp",
	}, got)
}
