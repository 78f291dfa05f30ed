package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/nearloop/backend/domain/interaction"
)

// orderPair returns a, b in the lexical order the interactions/
// account_interaction_index tables key on (spec.md §9).
func orderPair(a, b string) (first, second string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// withWriteTx runs fn inside a transaction on the single write connection.
// Because the write pool is capped at one connection (infrastructure/
// sqlitedb), a transaction holds it exclusively for its duration, giving
// every state transition in this file atomicity without extra locking.
func (s *Store) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetOrCreateInteraction(ctx context.Context, a, b string) (interaction.Interaction, error) {
	first, second := orderPair(a, b)
	var out interaction.Interaction
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		it, err := getOrCreateInteractionTx(ctx, tx, first, second)
		if err != nil {
			return err
		}
		out = it
		return nil
	})
	return out, err
}

func (s *Store) GetInteraction(ctx context.Context, a, b string) (interaction.Interaction, bool, error) {
	first, second := orderPair(a, b)
	row := s.read.QueryRowContext(ctx, interactionSelect+` WHERE first_account_id = ? AND second_account_id = ?`, first, second)
	it, err := scanInteraction(row)
	if err == sql.ErrNoRows {
		return interaction.Interaction{}, false, nil
	}
	if err != nil {
		return interaction.Interaction{}, false, err
	}
	return it, true, nil
}

// ApplyLike runs the empty→like and like→match transitions (spec.md §4.6).
// A like from the interaction's existing sender, or a like arriving while
// the pair is already matched, is idempotent and returns the unchanged row.
func (s *Store) ApplyLike(ctx context.Context, liker, likee string) (interaction.Interaction, error) {
	first, second := orderPair(liker, likee)
	var out interaction.Interaction
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		it, err := getOrCreateInteractionTx(ctx, tx, first, second)
		if err != nil {
			return err
		}

		switch {
		case it.State.Blocked(), it.State == interaction.StateMatch:
			out = it
			return nil
		case it.State == interaction.StateEmpty:
			it.State = interaction.StateLike
			it.SenderAccountID = liker
			it.ReceiverAccountID = likee
		case it.State == interaction.StateLike && it.SenderAccountID == liker:
			out = it
			return nil
		case it.State == interaction.StateLike:
			it.State = interaction.StateMatch
		default:
			out = it
			return nil
		}

		it.UpdatedAt = time.Now().UTC()
		if err := updateInteractionTx(ctx, tx, it); err != nil {
			return err
		}
		out = it
		return nil
	})
	return out, err
}

// RemoveLike reverts a sender's own like→empty; a no-op otherwise
// (spec.md §4.6).
func (s *Store) RemoveLike(ctx context.Context, liker, likee string) (interaction.Interaction, error) {
	first, second := orderPair(liker, likee)
	var out interaction.Interaction
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		it, err := getOrCreateInteractionTx(ctx, tx, first, second)
		if err != nil {
			return err
		}
		if it.State != interaction.StateLike || it.SenderAccountID != liker {
			out = it
			return nil
		}
		it.State = interaction.StateEmpty
		it.SenderAccountID = ""
		it.ReceiverAccountID = ""
		it.UpdatedAt = time.Now().UTC()
		if err := updateInteractionTx(ctx, tx, it); err != nil {
			return err
		}
		out = it
		return nil
	})
	return out, err
}

// ApplyBlock sets blocker's block direction, composing with an existing
// opposite-direction block into block-both (spec.md §4.6).
func (s *Store) ApplyBlock(ctx context.Context, blocker, blockee string) (interaction.Interaction, error) {
	first, second := orderPair(blocker, blockee)
	var out interaction.Interaction
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		it, err := getOrCreateInteractionTx(ctx, tx, first, second)
		if err != nil {
			return err
		}

		blockerIsFirst := blocker == it.FirstAccountID
		wantState := interaction.StateBlockSecond
		if blockerIsFirst {
			wantState = interaction.StateBlockFirst
		}

		switch it.State {
		case interaction.StateBlockBoth, wantState:
			out = it
			return nil
		case interaction.StateBlockFirst, interaction.StateBlockSecond:
			it.State = interaction.StateBlockBoth
		default:
			it.State = wantState
			it.SenderAccountID = blocker
			it.ReceiverAccountID = blockee
		}

		it.UpdatedAt = time.Now().UTC()
		if err := updateInteractionTx(ctx, tx, it); err != nil {
			return err
		}
		out = it
		return nil
	})
	return out, err
}

// NextSequenceID atomically increments and returns the per-direction
// message counter (spec.md §4.6 step 2).
func (s *Store) NextSequenceID(ctx context.Context, interactionID int64, senderSide interaction.Side) (int64, error) {
	column := "message_counter_sender"
	if senderSide == interaction.SideSecond {
		column = "message_counter_receiver"
	}
	var seq int64
	row := s.write.QueryRowContext(ctx, `
		UPDATE interactions SET `+column+` = `+column+` + 1, updated_at = ?
		WHERE id = ?
		RETURNING `+column+`
	`, formatTime(time.Now().UTC()), interactionID)
	if err := row.Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *Store) CreatePendingMessage(ctx context.Context, m interaction.PendingMessage) (interaction.PendingMessage, error) {
	res, err := s.write.ExecContext(ctx, `
		INSERT INTO pending_messages (
			interaction_id, message_id, message_uuid, sender_account_id, receiver_account_id,
			sent_at_unix, envelope, sender_ack, receiver_ack, receiver_push_sent, receiver_email_sent
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.InteractionID, m.MessageID, m.MessageUUID, m.SenderAccountID, m.ReceiverAccountID,
		m.SentAtUnix, m.Envelope, boolToInt(m.SenderAck), boolToInt(m.ReceiverAck),
		boolToInt(m.ReceiverPushSent), boolToInt(m.ReceiverEmailSent),
	)
	if err != nil {
		return interaction.PendingMessage{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return interaction.PendingMessage{}, err
	}
	m.ID = id
	return m, nil
}

func (s *Store) ListPendingForReceiver(ctx context.Context, receiverAccountID string) ([]interaction.PendingMessage, error) {
	rows, err := s.read.QueryContext(ctx, pendingMessageSelect+`
		WHERE receiver_account_id = ? ORDER BY message_id
	`, receiverAccountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []interaction.PendingMessage
	for rows.Next() {
		m, err := scanPendingMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) AckSender(ctx context.Context, messageUUID string) error {
	return s.ackMessage(ctx, messageUUID, true, false)
}

func (s *Store) AckReceiver(ctx context.Context, messageUUID string) error {
	return s.ackMessage(ctx, messageUUID, false, true)
}

// ackMessage marks whichever of senderAck/receiverAck is requested and
// deletes the row once both acks are true (spec.md §4.6,
// interaction.PendingMessage.Done).
func (s *Store) ackMessage(ctx context.Context, messageUUID string, senderAck, receiverAck bool) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, pendingMessageSelect+` WHERE message_uuid = ?`, messageUUID)
		m, err := scanPendingMessage(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}

		if senderAck {
			m.SenderAck = true
		}
		if receiverAck {
			m.ReceiverAck = true
		}

		if m.Done() {
			_, err := tx.ExecContext(ctx, `DELETE FROM pending_messages WHERE id = ?`, m.ID)
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE pending_messages SET sender_ack = ?, receiver_ack = ? WHERE id = ?
		`, boolToInt(m.SenderAck), boolToInt(m.ReceiverAck), m.ID)
		return err
	})
}

func (s *Store) MarkPushSent(ctx context.Context, messageUUID string) error {
	_, err := s.write.ExecContext(ctx, `
		UPDATE pending_messages SET receiver_push_sent = 1 WHERE message_uuid = ?
	`, messageUUID)
	return err
}

func (s *Store) ClearPushSent(ctx context.Context, accountID string) error {
	_, err := s.write.ExecContext(ctx, `
		UPDATE pending_messages SET receiver_push_sent = 0 WHERE receiver_account_id = ?
	`, accountID)
	return err
}

const interactionSelect = `
	SELECT id, first_account_id, second_account_id, state, sender_account_id, receiver_account_id,
	       message_counter_sender, message_counter_receiver, last_viewed_by_sender, last_viewed_by_receiver,
	       created_at, updated_at
	FROM interactions
`

func scanInteraction(row rowScanner) (interaction.Interaction, error) {
	var (
		it               interaction.Interaction
		state            string
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&it.ID, &it.FirstAccountID, &it.SecondAccountID, &state, &it.SenderAccountID, &it.ReceiverAccountID,
		&it.MessageCounterSender, &it.MessageCounterReceiver, &it.LastViewedBySender, &it.LastViewedByReceiver,
		&createdAt, &updatedAt,
	); err != nil {
		return interaction.Interaction{}, err
	}
	it.State = interaction.State(state)
	var err error
	if it.CreatedAt, err = parseTime(createdAt); err != nil {
		return interaction.Interaction{}, err
	}
	if it.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return interaction.Interaction{}, err
	}
	return it, nil
}

func getOrCreateInteractionTx(ctx context.Context, tx *sql.Tx, first, second string) (interaction.Interaction, error) {
	row := tx.QueryRowContext(ctx, interactionSelect+` WHERE first_account_id = ? AND second_account_id = ?`, first, second)
	it, err := scanInteraction(row)
	if err == nil {
		return it, nil
	}
	if err != sql.ErrNoRows {
		return interaction.Interaction{}, err
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO interactions (
			first_account_id, second_account_id, state,
			sender_account_id, receiver_account_id, created_at, updated_at
		) VALUES (?, ?, ?, '', '', ?, ?)
	`, first, second, string(interaction.StateEmpty), formatTime(now), formatTime(now))
	if err != nil {
		return interaction.Interaction{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return interaction.Interaction{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO account_interaction_index (first_account_id, second_account_id, interaction_id)
		VALUES (?, ?, ?)
	`, first, second, id); err != nil {
		return interaction.Interaction{}, err
	}

	return interaction.Interaction{
		ID: id, FirstAccountID: first, SecondAccountID: second,
		State: interaction.StateEmpty, CreatedAt: now, UpdatedAt: now,
	}, nil
}

func updateInteractionTx(ctx context.Context, tx *sql.Tx, it interaction.Interaction) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE interactions
		SET state = ?, sender_account_id = ?, receiver_account_id = ?, updated_at = ?
		WHERE id = ?
	`, string(it.State), it.SenderAccountID, it.ReceiverAccountID, formatTime(it.UpdatedAt), it.ID)
	return err
}

const pendingMessageSelect = `
	SELECT id, interaction_id, message_id, message_uuid, sender_account_id, receiver_account_id,
	       sent_at_unix, envelope, sender_ack, receiver_ack, receiver_push_sent, receiver_email_sent
	FROM pending_messages
`

func scanPendingMessage(row rowScanner) (interaction.PendingMessage, error) {
	var (
		m                                                       interaction.PendingMessage
		senderAck, receiverAck, receiverPushSent, receiverEmailSent int
	)
	if err := row.Scan(
		&m.ID, &m.InteractionID, &m.MessageID, &m.MessageUUID, &m.SenderAccountID, &m.ReceiverAccountID,
		&m.SentAtUnix, &m.Envelope, &senderAck, &receiverAck, &receiverPushSent, &receiverEmailSent,
	); err != nil {
		return interaction.PendingMessage{}, err
	}
	m.SenderAck = senderAck != 0
	m.ReceiverAck = receiverAck != 0
	m.ReceiverPushSent = receiverPushSent != 0
	m.ReceiverEmailSent = receiverEmailSent != 0
	return m, nil
}
