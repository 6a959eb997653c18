package multisig

import (
	"context"
	"strconv"
	"strings"
)

// CreateQueueInput carries a local transaction proposal. When Password is
// non-empty the proposal is signed immediately with every locally-held
// member key, so the creating action already carries signatures.
type CreateQueueInput struct {
	ID        string
	AccountID string
	Intent    TransferIntent
	Password  string
}

// CreateQueue builds a proposed transaction through the account's chain
// adapter and persists it with one unsigned signature slot per member. An
// account with an unresolved queue refuses a second proposal until the
// first reaches a terminal state.
func (e *Engine) CreateQueue(ctx context.Context, input CreateQueueInput) (*Queue, error) {
	acct, err := e.Account(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}
	if acct.Status != AccountConfirmed {
		return nil, validationf("account %s is not fully confirmed", acct.ID)
	}
	members, err := e.store.MembersByAccount(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	ongoing, err := e.store.QueuesByAccount(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	for _, q := range ongoing {
		if !q.Status.Terminal() {
			return nil, validationf("account %s has an unresolved queue %s", acct.ID, q.ID)
		}
	}

	adapter, err := e.adapter(acct.ChainCode)
	if err != nil {
		return nil, err
	}
	built, err := adapter.BuildTransaction(ctx, acct, members, input.Intent)
	if err != nil {
		return nil, adapterErr(err)
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = e.idFn()
	}
	queue := &Queue{
		ID:              id,
		AccountID:       acct.ID,
		FromAddress:     acct.Address,
		ToAddress:       input.Intent.To,
		Value:           input.Intent.Value,
		Symbol:          input.Intent.Symbol,
		ChainCode:       acct.ChainCode,
		TokenAddress:    input.Intent.TokenAddress,
		Expiration:      input.Intent.Expiration,
		UnsignedPayload: built.UnsignedPayload,
		MessageHash:     built.MessageHash,
		Status:          StatusPendingSignature,
		Notes:           input.Intent.Notes,
		CreatedAt:       e.now(),
	}
	sanitized, err := SanitizeQueue(queue)
	if err != nil {
		return nil, err
	}

	sigs := make(Signatures, 0, len(members))
	for _, m := range members {
		sigs = append(sigs, Signature{QueueID: sanitized.ID, Address: m.Address, Status: SigUnsigned})
	}
	if input.Password != "" {
		signed, err := e.signWithSelfKeys(ctx, adapter, acct, members, sanitized.MessageHash, sanitized.ID, input.Password)
		if err != nil {
			return nil, err
		}
		for i := range sigs {
			if s, ok := signed.ByAddress(sigs[i].Address); ok {
				sigs[i] = s
			}
		}
	}

	err = e.store.InTx(ctx, func(tx Store) error {
		if err := tx.QueuePut(ctx, sanitized); err != nil {
			return err
		}
		for _, sig := range sigs {
			if err := tx.SignaturePut(ctx, sig); err != nil {
				return err
			}
		}
		return e.recomputeQueueLocked(ctx, tx, sanitized, acct.Threshold)
	})
	if err != nil {
		return nil, err
	}
	e.emit(queueEvent(EventQueueCreated, sanitized))
	return sanitized.Clone(), nil
}

// signWithSelfKeys produces approved signature records for every member key
// held locally. A bad password surfaces before any state mutation.
func (e *Engine) signWithSelfKeys(ctx context.Context, adapter ChainAdapter, acct *Account, members Members, messageHash, queueID, password string) (Signatures, error) {
	if e.keys == nil {
		return nil, validationf("key store not configured")
	}
	var out Signatures
	for _, m := range members {
		if !m.IsSelf {
			continue
		}
		key, err := e.keys.PrivateKey(m.Address, acct.ChainCode, password)
		if err != nil {
			return nil, err
		}
		blob, err := adapter.Sign(messageHash, key)
		if err != nil {
			return nil, adapterErr(err)
		}
		out = append(out, Signature{QueueID: queueID, Address: m.Address, Status: SigApproved, Bytes: blob})
	}
	return out, nil
}

// SignQueue records the local verdict on a queue entry. Approving signs the
// message hash with every locally-held member key; rejecting marks the
// member rows rejected without touching key material. The returned records
// are what the caller pushes to the relay.
func (e *Engine) SignQueue(ctx context.Context, queueID string, verdict SignatureStatus, password string) (Signatures, error) {
	if verdict != SigApproved && verdict != SigRejected {
		return nil, validationf("verdict must be approved or rejected")
	}
	queue, acct, members, err := e.queueContext(ctx, queueID)
	if err != nil {
		return nil, err
	}
	if err := e.ensureActionable(ctx, queue); err != nil {
		return nil, err
	}

	var produced Signatures
	if verdict == SigApproved {
		adapter, err := e.adapter(queue.ChainCode)
		if err != nil {
			return nil, err
		}
		produced, err = e.signWithSelfKeys(ctx, adapter, acct, members, queue.MessageHash, queue.ID, password)
		if err != nil {
			return nil, err
		}
	} else {
		for _, m := range members {
			if m.IsSelf {
				produced = append(produced, Signature{QueueID: queue.ID, Address: m.Address, Status: SigRejected})
			}
		}
	}
	if len(produced) == 0 {
		return nil, validationf("no locally-held member key for account %s", acct.ID)
	}

	err = e.store.InTx(ctx, func(tx Store) error {
		for _, sig := range produced {
			if err := e.upsertSignatureLocked(ctx, tx, sig); err != nil {
				return err
			}
		}
		return e.recomputeQueueLocked(ctx, tx, queue, acct.Threshold)
	})
	if err != nil {
		return nil, err
	}
	e.emit(queueEvent(EventQueueSigned, queue))
	return produced, nil
}

// ApplySignature ingests a signature record observed from a peer. Unknown
// queues surface as not-found so the caller can trigger recovery; terminal
// queues absorb the write as a conflict.
func (e *Engine) ApplySignature(ctx context.Context, sig Signature) error {
	queue, acct, _, err := e.queueContext(ctx, sig.QueueID)
	if err != nil {
		return err
	}
	if err := e.ensureActionable(ctx, queue); err != nil {
		return err
	}
	err = e.store.InTx(ctx, func(tx Store) error {
		if err := e.upsertSignatureLocked(ctx, tx, sig); err != nil {
			return err
		}
		return e.recomputeQueueLocked(ctx, tx, queue, acct.Threshold)
	})
	if err != nil {
		return err
	}
	e.emit(queueEvent(EventQueueSigned, queue))
	return nil
}

// upsertSignatureLocked writes a signature record with monotone semantics:
// a slot moves from unsigned to a terminal verdict at most once, and
// re-applying the same verdict is a no-op rather than an error.
func (e *Engine) upsertSignatureLocked(ctx context.Context, tx Store, sig Signature) error {
	if !sig.Status.Valid() {
		return validationf("invalid signature status %d", sig.Status)
	}
	existing, err := tx.SignaturesByQueue(ctx, sig.QueueID)
	if err != nil {
		return err
	}
	if prev, ok := existing.ByAddress(sig.Address); ok && prev.Status != SigUnsigned {
		if prev.Status != sig.Status {
			e.log.Warn("conflicting signature verdict ignored",
				"queue", sig.QueueID, "address", sig.Address,
				"have", prev.Status.String(), "got", sig.Status.String())
		}
		return nil
	}
	return tx.SignaturePut(ctx, sig)
}

// aggregate recomputes the queue status from the joined member/signature
// states. It is pure: re-running it against an unchanged signature set
// yields the same result.
//
// The order of the rules is load-bearing. Reaching the threshold moves the
// queue to pending-execution. Failing the reachability check
// (unsigned+approved < threshold) fails the queue immediately instead of
// waiting for verdicts that can no longer matter. An unsigned local member
// outranks other members' progress so the holder keeps seeing an
// actionable pending-signature state.
func aggregate(states []MemberSignState, threshold int) (QueueStatus, string) {
	var approved, unsigned int
	selfUnsigned := false
	for _, s := range states {
		switch s.SigStatus {
		case SigApproved:
			approved++
		case SigUnsigned:
			unsigned++
			if s.IsSelf {
				selfUnsigned = true
			}
		}
	}
	switch {
	case approved >= threshold:
		return StatusPendingExecution, FailReasonNone
	case unsigned+approved < threshold:
		return StatusFail, FailReasonSignFailed
	case selfUnsigned:
		return StatusPendingSignature, FailReasonNone
	default:
		return StatusHasSignature, FailReasonNone
	}
}

// recomputeQueueLocked applies the aggregation result inside the caller's
// transaction. Statuses never regress: a queue at or past broadcast keeps
// its state, and terminal queues are untouched.
func (e *Engine) recomputeQueueLocked(ctx context.Context, tx Store, queue *Queue, threshold int) error {
	current, ok, err := tx.QueueGet(ctx, queue.ID)
	if err != nil {
		return err
	}
	if !ok {
		return notFoundf("queue %s", queue.ID)
	}
	if current.Status.Terminal() || current.Status == StatusInConfirmation {
		*queue = *current
		return nil
	}
	members, err := tx.MembersByAccount(ctx, queue.AccountID)
	if err != nil {
		return err
	}
	sigs, err := tx.SignaturesByQueue(ctx, queue.ID)
	if err != nil {
		return err
	}
	status, reason := aggregate(JoinSignStates(members, sigs), threshold)
	if status == current.Status {
		*queue = *current
		return nil
	}
	// Forward-only below pending-execution; fail is always reachable.
	if status != StatusFail && status < current.Status {
		*queue = *current
		return nil
	}
	current.Status = status
	current.FailReason = reason
	if err := tx.QueuePut(ctx, current); err != nil {
		return err
	}
	*queue = *current
	return nil
}

// EstimateFee asks the chain adapter for the execution cost of a queue.
func (e *Engine) EstimateFee(ctx context.Context, queueID string) (Fee, error) {
	queue, acct, _, err := e.queueContext(ctx, queueID)
	if err != nil {
		return Fee{}, err
	}
	adapter, err := e.adapter(queue.ChainCode)
	if err != nil {
		return Fee{}, err
	}
	fee, err := adapter.EstimateFee(ctx, acct, queue)
	if err != nil {
		return Fee{}, adapterErr(err)
	}
	return fee, nil
}

// Execute hands a fully-approved queue to the chain adapter for broadcast.
// Adapter failures leave the queue in pending-execution so the caller can
// retry; a successful broadcast records the transaction hash and moves the
// queue to in-confirmation.
func (e *Engine) Execute(ctx context.Context, queueID, password string) (string, error) {
	queue, acct, members, err := e.queueContext(ctx, queueID)
	if err != nil {
		return "", err
	}
	if err := e.ensureActionable(ctx, queue); err != nil {
		return "", err
	}
	if queue.Status != StatusPendingExecution {
		return "", validationf("queue %s is %s, not pending execution", queue.ID, queue.Status)
	}
	adapter, err := e.adapter(queue.ChainCode)
	if err != nil {
		return "", err
	}
	sigs, err := e.store.SignaturesByQueue(ctx, queue.ID)
	if err != nil {
		return "", err
	}
	if e.keys == nil {
		return "", validationf("key store not configured")
	}
	executor := e.executorAddress(acct, members)
	if executor == "" {
		return "", validationf("no locally-held key can execute for account %s", acct.ID)
	}
	if _, err := e.keys.PrivateKey(executor, acct.ChainCode, password); err != nil {
		return "", err
	}

	txHash, err := adapter.Execute(ctx, acct, sigs.Approved(), queue.UnsignedPayload)
	if err != nil {
		return "", adapterErr(err)
	}

	err = e.store.InTx(ctx, func(tx Store) error {
		current, ok, err := tx.QueueGet(ctx, queue.ID)
		if err != nil {
			return err
		}
		if !ok {
			return notFoundf("queue %s", queue.ID)
		}
		if current.Status.Terminal() || current.Status == StatusInConfirmation {
			*queue = *current
			return nil
		}
		current.TxHash = txHash
		current.Status = StatusInConfirmation
		if err := tx.QueuePut(ctx, current); err != nil {
			return err
		}
		*queue = *current
		return nil
	})
	if err != nil {
		return "", err
	}
	e.emit(queueEvent(EventQueueExecuted, queue))
	return txHash, nil
}

// executorAddress picks the fee-paying key: the initiator when held
// locally, otherwise any locally-held member key.
func (e *Engine) executorAddress(acct *Account, members Members) string {
	for _, m := range members {
		if m.IsSelf && m.Address == acct.InitiatorAddress {
			return m.Address
		}
	}
	for _, m := range members {
		if m.IsSelf {
			return m.Address
		}
	}
	return ""
}

// ApplyExecutionResult ingests an observed on-chain outcome for a
// broadcast queue. The transition to success or fail is one-way and
// idempotent: replaying the same result is a no-op.
func (e *Engine) ApplyExecutionResult(ctx context.Context, queueID string, success bool, blockHeight uint64) error {
	var resolved *Queue
	err := e.store.InTx(ctx, func(tx Store) error {
		queue, ok, err := tx.QueueGet(ctx, queueID)
		if err != nil {
			return err
		}
		if !ok {
			return notFoundf("queue %s", queueID)
		}
		if queue.Status.Terminal() {
			return nil
		}
		if queue.Status != StatusInConfirmation {
			return conflictf("queue %s is %s, not awaiting confirmation", queueID, queue.Status)
		}
		if success {
			queue.Status = StatusSuccess
		} else {
			queue.Status = StatusFail
		}
		if err := tx.QueuePut(ctx, queue); err != nil {
			return err
		}
		resolved = queue.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	if resolved != nil {
		typ := EventQueueResolved
		if resolved.Status == StatusFail {
			typ = EventQueueFailed
		}
		evt := queueEvent(typ, resolved)
		if blockHeight > 0 {
			evt.Attributes["blockHeight"] = strconv.FormatUint(blockHeight, 10)
		}
		e.emit(evt)
	}
	return nil
}

// ExpireDue force-fails every pre-broadcast queue whose deadline passed.
// Expiry is lazy data timeout; this sweep only exists so stale queues
// resolve without waiting for their next observation.
func (e *Engine) ExpireDue(ctx context.Context) (int, error) {
	queues, err := e.store.QueuesByStatus(ctx, StatusPendingSignature, StatusHasSignature, StatusPendingExecution)
	if err != nil {
		return 0, err
	}
	now := e.now()
	expired := 0
	for _, q := range queues {
		if !q.Expired(now) {
			continue
		}
		if err := e.failQueue(ctx, q.ID, FailReasonExpired); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// failQueue moves a non-terminal queue to fail with the given reason,
// idempotently.
func (e *Engine) failQueue(ctx context.Context, queueID, reason string) error {
	var failed *Queue
	err := e.store.InTx(ctx, func(tx Store) error {
		queue, ok, err := tx.QueueGet(ctx, queueID)
		if err != nil {
			return err
		}
		if !ok {
			return notFoundf("queue %s", queueID)
		}
		if queue.Status.Terminal() {
			return nil
		}
		queue.Status = StatusFail
		queue.FailReason = reason
		if err := tx.QueuePut(ctx, queue); err != nil {
			return err
		}
		failed = queue.Clone()
		return nil
	})
	if err != nil {
		return err
	}
	if failed != nil {
		e.emit(queueEvent(EventQueueFailed, failed))
	}
	return nil
}

// SyncConfirmations polls the chain for every broadcast queue and applies
// the observed outcome. It returns the queues that reached a terminal
// state during this pass so the caller can report them upstream.
func (e *Engine) SyncConfirmations(ctx context.Context) ([]*Queue, error) {
	queues, err := e.store.QueuesByStatus(ctx, StatusInConfirmation)
	if err != nil {
		return nil, err
	}
	var resolved []*Queue
	for _, q := range queues {
		adapter, err := e.adapter(q.ChainCode)
		if err != nil {
			e.log.Warn("skipping confirmation poll", "queue", q.ID, "err", err)
			continue
		}
		conf, err := adapter.QueryConfirmation(ctx, q.TxHash)
		if err != nil {
			e.log.Warn("confirmation query failed", "queue", q.ID, "txHash", q.TxHash, "err", err)
			continue
		}
		if conf.State == ConfirmPending {
			continue
		}
		success := conf.State == ConfirmSuccess
		if err := e.ApplyExecutionResult(ctx, q.ID, success, conf.BlockHeight); err != nil {
			return resolved, err
		}
		final, _, err := e.store.QueueGet(ctx, q.ID)
		if err != nil {
			return resolved, err
		}
		resolved = append(resolved, final)
	}
	return resolved, nil
}

// MemberSignStates returns the per-member signing view of a queue, the
// joined rows the presentation layer renders.
func (e *Engine) MemberSignStates(ctx context.Context, queueID string) ([]MemberSignState, error) {
	queue, _, members, err := e.queueContext(ctx, queueID)
	if err != nil {
		return nil, err
	}
	sigs, err := e.store.SignaturesByQueue(ctx, queue.ID)
	if err != nil {
		return nil, err
	}
	return JoinSignStates(members, sigs), nil
}

// Queue returns a queue by id.
func (e *Engine) Queue(ctx context.Context, queueID string) (*Queue, error) {
	q, ok, err := e.store.QueueGet(ctx, queueID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFoundf("queue %s", queueID)
	}
	return q, nil
}

// QueueSnapshot assembles the queue-plus-signatures blob reported to the
// relay.
func (e *Engine) QueueSnapshot(ctx context.Context, queueID string) (QueueSnapshot, error) {
	q, err := e.Queue(ctx, queueID)
	if err != nil {
		return QueueSnapshot{}, err
	}
	sigs, err := e.store.SignaturesByQueue(ctx, queueID)
	if err != nil {
		return QueueSnapshot{}, err
	}
	return QueueSnapshot{Queue: *q, Signatures: sigs}, nil
}

// ImportQueueSnapshot merges an authoritative queue blob into the local
// store and recomputes the aggregation so locally-stale statuses
// self-correct. A locally-terminal queue never regresses; a recovered
// pre-broadcast queue whose deadline already passed lands directly in
// fail/expired.
func (e *Engine) ImportQueueSnapshot(ctx context.Context, snap QueueSnapshot) error {
	sanitized, err := SanitizeQueue(&snap.Queue)
	if err != nil {
		return err
	}
	acct, ok, err := e.store.AccountGet(ctx, sanitized.AccountID)
	if err != nil {
		return err
	}
	if !ok {
		return notFoundf("account %s for queue %s", sanitized.AccountID, sanitized.ID)
	}
	return e.store.InTx(ctx, func(tx Store) error {
		local, known, err := tx.QueueGet(ctx, sanitized.ID)
		if err != nil {
			return err
		}
		if known {
			if local.Status.Terminal() {
				// The local resolution is authoritative.
				return nil
			}
			if local.Status == StatusInConfirmation {
				// This instance already broadcast; a peer's stale blob
				// must not rewind the queue or re-arm execution. Only
				// signatures merge.
				for _, sig := range snap.Signatures {
					sig.QueueID = sanitized.ID
					if err := e.upsertSignatureLocked(ctx, tx, sig); err != nil {
						return err
					}
				}
				return nil
			}
			if sanitized.TxHash == "" {
				sanitized.TxHash = local.TxHash
			}
			sanitized.CreatedAt = local.CreatedAt
		}
		// Expiry only after the merge, so a broadcast recorded locally
		// (non-empty TxHash) is never expired by a stale remote blob.
		if sanitized.Expired(e.now()) {
			sanitized.Status = StatusFail
			sanitized.FailReason = FailReasonExpired
		}
		if err := tx.QueuePut(ctx, sanitized); err != nil {
			return err
		}
		for _, sig := range snap.Signatures {
			sig.QueueID = sanitized.ID
			if err := e.upsertSignatureLocked(ctx, tx, sig); err != nil {
				return err
			}
		}
		return e.recomputeQueueLocked(ctx, tx, sanitized, acct.Threshold)
	})
}

// queueContext loads a queue with its account and member set.
func (e *Engine) queueContext(ctx context.Context, queueID string) (*Queue, *Account, Members, error) {
	queue, ok, err := e.store.QueueGet(ctx, queueID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !ok {
		return nil, nil, nil, notFoundf("queue %s", queueID)
	}
	acct, ok, err := e.store.AccountGet(ctx, queue.AccountID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !ok {
		return nil, nil, nil, notFoundf("account %s", queue.AccountID)
	}
	if acct.Deleted {
		return nil, nil, nil, conflictf("account %s is cancelled", acct.ID)
	}
	members, err := e.store.MembersByAccount(ctx, queue.AccountID)
	if err != nil {
		return nil, nil, nil, err
	}
	return queue, acct, members, nil
}

// ensureActionable rejects mutations of terminal queues and lazily expires
// overdue ones on observation.
func (e *Engine) ensureActionable(ctx context.Context, queue *Queue) error {
	if queue.Status.Terminal() {
		return conflictf("queue %s is terminal", queue.ID)
	}
	if queue.Status == StatusInConfirmation {
		return conflictf("queue %s was already broadcast", queue.ID)
	}
	if queue.Expired(e.now()) {
		if err := e.failQueue(ctx, queue.ID, FailReasonExpired); err != nil {
			return err
		}
		return conflictf("queue %s expired", queue.ID)
	}
	return nil
}
