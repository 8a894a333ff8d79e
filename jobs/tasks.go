package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical holds ledger repairs, which jump ahead of housekeeping.
	QueueCritical = "critical"

	// TaskCascadeDelete removes ledger records left behind by a deleted item.
	TaskCascadeDelete = "inventory:cascade_delete"
	// TaskLedgerReconcile repairs drift between an item and its ledger.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskAccountPurge removes every document of a deleted account.
	TaskAccountPurge = "account:purge"
)

const maxRetry = 10

// uniqueFor collapses duplicate enqueues of the same task. The lock expires
// on its own, so an archived task never blocks a later repair.
const uniqueFor = 10 * time.Minute

// ItemPayload identifies one item of one owner.
type ItemPayload struct {
	ItemID  string `json:"item_id"`
	OwnerID string `json:"owner_id"`
}

// AccountPayload identifies an account.
type AccountPayload struct {
	UserID string `json:"user_id"`
}

var errEmptyPayload = errors.New("jobs: payload missing identifiers")

// NewCascadeDeleteTask constructs an Asynq task for TaskCascadeDelete.
func NewCascadeDeleteTask(itemID, ownerID string) (*asynq.Task, error) {
	return newItemTask(TaskCascadeDelete, itemID, ownerID)
}

// NewLedgerReconcileTask constructs an Asynq task for TaskLedgerReconcile.
func NewLedgerReconcileTask(itemID, ownerID string) (*asynq.Task, error) {
	return newItemTask(TaskLedgerReconcile, itemID, ownerID)
}

func newItemTask(typ, itemID, ownerID string) (*asynq.Task, error) {
	if itemID == "" || ownerID == "" {
		return nil, errEmptyPayload
	}
	body, err := json.Marshal(ItemPayload{ItemID: itemID, OwnerID: ownerID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(maxRetry),
		asynq.Unique(uniqueFor),
	), nil
}

// NewAccountPurgeTask constructs an Asynq task for TaskAccountPurge.
func NewAccountPurgeTask(userID string) (*asynq.Task, error) {
	if userID == "" {
		return nil, errEmptyPayload
	}
	body, err := json.Marshal(AccountPayload{UserID: userID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAccountPurge, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(maxRetry),
		asynq.Unique(uniqueFor),
	), nil
}
