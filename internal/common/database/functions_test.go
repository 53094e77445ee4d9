package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateConnectionString(t *testing.T) {
	assert.Equal(t, "", CreateConnectionString(nil))
	assert.Equal(t,
		`dbname='spider' host='localhost' password='it\'s \\secret'`,
		CreateConnectionString(map[string]string{
			"host":     "localhost",
			"dbname":   "spider",
			"password": `it's \secret`,
		}))
}
