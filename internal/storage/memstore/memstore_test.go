package memstore

import (
	"testing"

	"github.com/m3rciful/studybot/internal/storage"
	"github.com/m3rciful/studybot/internal/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(*testing.T) storage.Store { return New() })
}
