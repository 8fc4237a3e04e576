package kvstore

import (
	"encoding/json"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/mattermost/mattermost/server/public/plugin"
	"github.com/pkg/errors"
)

const (
	recordKeyPrefix = "pcpp_record_"
	indexKey        = "pcpp_record_index"

	// maxAttempts bounds the retries on transient KV failures.
	maxAttempts = 3
)

// Client implements RecordStore on the plugin KV store. Each logical insert
// or delete touches the record key and the index key; a failure on the
// second write reverts the first so the store never holds half an operation.
type Client struct {
	api plugin.API
}

// NewRecordStore creates a RecordStore backed by the plugin KV store.
func NewRecordStore(api plugin.API) Client {
	return Client{api: api}
}

func (c Client) Get(userMessageID string) (*MessageRecord, error) {
	data, err := c.kvGet(recordKeyPrefix + userMessageID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get message record")
	}
	if data == nil {
		return nil, nil
	}

	var record MessageRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal message record")
	}
	return &record, nil
}

func (c Client) Insert(record *MessageRecord) error {
	if record == nil {
		return errors.New("message record is nil")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message record")
	}

	index, err := c.loadIndex()
	if err != nil {
		return err
	}

	if err := c.kvSet(recordKeyPrefix+record.UserMessageID, data); err != nil {
		return errors.Wrap(err, "failed to store message record")
	}

	if err := c.storeIndex(append(index, record.UserMessageID)); err != nil {
		// Revert the record write so the index stays the source of truth.
		if delErr := c.kvDelete(recordKeyPrefix + record.UserMessageID); delErr != nil {
			c.api.LogError("Failed to revert record after index write failure",
				"userMessageID", record.UserMessageID, "error", delErr.Error())
		}
		return errors.Wrap(err, "failed to update record index")
	}

	return nil
}

func (c Client) Delete(userMessageID string) error {
	index, err := c.loadIndex()
	if err != nil {
		return err
	}

	trimmed := make([]string, 0, len(index))
	for _, id := range index {
		if id != userMessageID {
			trimmed = append(trimmed, id)
		}
	}

	if len(trimmed) != len(index) {
		if err := c.storeIndex(trimmed); err != nil {
			return errors.Wrap(err, "failed to update record index")
		}
	}

	if err := c.kvDelete(recordKeyPrefix + userMessageID); err != nil {
		return errors.Wrap(err, "failed to delete message record")
	}

	return nil
}

func (c Client) IDs() ([]string, error) {
	return c.loadIndex()
}

func (c Client) loadIndex() ([]string, error) {
	data, err := c.kvGet(indexKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get record index")
	}
	if data == nil {
		return []string{}, nil
	}

	var index []string
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal record index")
	}
	return index, nil
}

func (c Client) storeIndex(index []string) error {
	data, err := json.Marshal(index)
	if err != nil {
		return errors.Wrap(err, "failed to marshal record index")
	}
	return c.kvSet(indexKey, data)
}

func (c Client) kvGet(key string) ([]byte, error) {
	var appErr *model.AppError
	var data []byte
	for attempt := 0; attempt < maxAttempts; attempt++ {
		data, appErr = c.api.KVGet(key)
		if appErr == nil {
			return data, nil
		}
	}
	return nil, appErr
}

func (c Client) kvSet(key string, data []byte) error {
	var appErr *model.AppError
	for attempt := 0; attempt < maxAttempts; attempt++ {
		appErr = c.api.KVSet(key, data)
		if appErr == nil {
			return nil
		}
	}
	return appErr
}

func (c Client) kvDelete(key string) error {
	var appErr *model.AppError
	for attempt := 0; attempt < maxAttempts; attempt++ {
		appErr = c.api.KVDelete(key)
		if appErr == nil {
			return nil
		}
	}
	return appErr
}
