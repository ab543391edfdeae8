package wallet

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/darwayne/utxo-ledger/internal/core/fullnode"
	"github.com/darwayne/utxo-ledger/pkg/txcodec"
)

// SendState is one phase of a send in flight.
type SendState string

// Send phases. A send advances Created → JobSubmitted → JobDone → Sent;
// any error lands it in Failed.
const (
	StateCreated      SendState = "created"
	StateJobSubmitted SendState = "job-submitted"
	StateJobDone      SendState = "job-done"
	StateSent         SendState = "sent"
	StateFailed       SendState = "failed"
)

// Send drives one signed transaction through proof-of-work resolution and
// broadcast. Each step is an explicit transition; callers can observe the
// state between steps or just call Run.
type Send struct {
	w     *Wallet
	built *BuiltTx
	state SendState
	jobID string
	txID  string
	err   error
}

// NewSend wraps a signed build. The send owns the build's input marks:
// they are released on failure and kept on success until the spend is
// observed on-chain.
func (w *Wallet) NewSend(built *BuiltTx) *Send {
	return &Send{w: w, built: built, state: StateCreated}
}

// State returns the current phase.
func (s *Send) State() SendState { return s.state }

// TxID returns the transaction id, available once the send reaches Sent.
func (s *Send) TxID() string { return s.txID }

// Err returns the failure cause once the send reaches Failed.
func (s *Send) Err() error { return s.err }

// Run advances the send until it reaches Sent or Failed. A Failed send
// returns its cause and releases the inputs for reuse.
func (s *Send) Run(ctx context.Context) error {
	for s.state != StateSent && s.state != StateFailed {
		if err := s.Step(ctx); err != nil {
			s.fail(ctx, err)
			return err
		}
	}
	return s.err
}

// Step performs one state transition.
func (s *Send) Step(ctx context.Context) error {
	switch s.state {
	case StateCreated:
		return s.submitJob(ctx)
	case StateJobSubmitted:
		return s.awaitJob(ctx)
	case StateJobDone:
		return s.push(ctx)
	case StateSent, StateFailed:
		return nil
	default:
		return errors.Errorf("unknown send state %q", s.state)
	}
}

// submitJob stamps weight and timestamp, then hands the transaction to
// the mining service. Both fields sit outside the signed data, so setting
// them here does not invalidate the input signatures.
func (s *Send) submitJob(ctx context.Context) error {
	params, err := s.w.Params()
	if err != nil {
		return err
	}
	tx := s.built.Tx
	tx.Timestamp = s.w.now()
	weight, err := txcodec.CalculateWeight(*params, tx)
	if err != nil {
		return err
	}
	tx.Weight = weight

	raw, err := tx.Serialize()
	if err != nil {
		return err
	}
	job, err := s.w.cli.SubmitJob(ctx, hex.EncodeToString(raw))
	if err != nil {
		return errors.Wrap(err, "error submitting mining job")
	}
	s.jobID = job.JobID
	s.state = StateJobSubmitted
	s.w.log.Debug("mining job submitted", zap.String("job_id", s.jobID))
	return nil
}

// awaitJob polls the mining service until the job resolves, then applies
// the nonce, timestamp and parents it chose.
func (s *Send) awaitJob(ctx context.Context) error {
	for {
		job, err := s.w.cli.GetJobStatus(ctx, s.jobID)
		if err != nil {
			return errors.Wrap(err, "error polling mining job")
		}
		switch job.Status {
		case fullnode.JobStatusDone:
			return s.applyJob(job)
		case fullnode.JobStatusFailed:
			return errors.Errorf("mining job failed: %s", job.Message)
		case fullnode.JobStatusPending, fullnode.JobStatusMining:
		default:
			return errors.Errorf("unknown mining job status %q", job.Status)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.w.poll):
		}
	}
}

func (s *Send) applyJob(job *fullnode.MiningJob) error {
	tx := s.built.Tx
	tx.Nonce = job.Nonce
	if job.Timestamp > 0 {
		tx.Timestamp = job.Timestamp
	}
	tx.Parents = tx.Parents[:0]
	for _, p := range job.Parents {
		h, err := chainhash.NewHashFromStr(p)
		if err != nil {
			return errors.Wrapf(err, "bad parent %s", p)
		}
		tx.Parents = append(tx.Parents, *h)
	}
	s.state = StateJobDone
	return nil
}

// push broadcasts the mined transaction.
func (s *Send) push(ctx context.Context) error {
	raw, err := s.built.Tx.Serialize()
	if err != nil {
		return err
	}
	if err := s.w.cli.PushTx(ctx, hex.EncodeToString(raw)); err != nil {
		return errors.Wrap(err, "error broadcasting transaction")
	}
	id, err := s.built.Tx.TxID()
	if err != nil {
		return err
	}
	s.txID = id.String()
	s.state = StateSent
	s.w.log.Info("transaction sent", zap.String("tx_id", s.txID))
	return nil
}

// fail records the cause and releases the inputs.
func (s *Send) fail(ctx context.Context, err error) {
	s.state = StateFailed
	s.err = err
	s.w.ReleaseInputs(ctx, s.built)
	s.w.log.Warn("send failed", zap.Error(err))
}
