package upload

import (
	"fmt"
	"hash/fnv"
	"sync"
)

// keyedMutex serializes operations on a string key through a fixed number of
// lock stripes. It keeps idempotent chunk re-uploads coherent: concurrent
// writers of the same (upload_id, chunk_number) run one at a time, while
// writes to distinct chunks proceed independently (modulo stripe collisions).
//
// A stripe is never held across anything longer than one filesystem write
// plus the chunk-record transaction.
type keyedMutex struct {
	stripes []sync.Mutex
}

const mutexStripes = 64

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{stripes: make([]sync.Mutex, mutexStripes)}
}

// Lock locks the stripe for key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &k.stripes[h.Sum32()%mutexStripes]
	m.Lock()
	return m.Unlock
}

// chunkKey builds the lock key for a chunk of a session.
func chunkKey(uploadID string, n int) string {
	return fmt.Sprintf("%s/%d", uploadID, n)
}
