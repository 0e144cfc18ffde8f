package content

import (
	"encoding/json"

	"github.com/vrstage/prefetch/store"
)

// jsonStore wraps a store.Store and serializes its values as JSON instead of
// dealing in streams. Used for the small header sidecar records.
type jsonStore struct {
	store.Store
}

func newJSON(s store.Store) jsonStore {
	return jsonStore{s}
}

// Open the item having the given key and unserialize it into value.
func (js jsonStore) Open(key string, value interface{}) error {
	r, _, err := js.Store.Open(key)
	if err != nil {
		return err
	}
	err = json.NewDecoder(store.NewReader(r)).Decode(value)
	err2 := r.Close()
	if err == nil {
		err = err2
	}
	return err
}

// Save the value under the given key, deleting any existing value first.
func (js jsonStore) Save(key string, value interface{}) error {
	err := js.Delete(key)
	if err != nil {
		return err
	}
	w, err := js.Store.Create(key)
	if err != nil {
		return err
	}
	err = json.NewEncoder(w).Encode(value)
	err2 := w.Close()
	if err == nil {
		err = err2
	}
	return err
}
