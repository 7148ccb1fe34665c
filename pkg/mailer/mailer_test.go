package mailer_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mediapipe/pkg/mailer"
)

func validParams() mailer.SendEmailParams {
	return mailer.SendEmailParams{
		SendTo:   "user@example.com",
		Subject:  "Delivery alert",
		BodyHTML: "<p>hello</p>",
		Tag:      "delivery-alert",
	}
}

func TestSendEmailParamsValidate(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validParams().Validate())
	})

	t.Run("missing recipient", func(t *testing.T) {
		t.Parallel()

		p := validParams()
		p.SendTo = ""
		assert.ErrorIs(t, p.Validate(), mailer.ErrInvalidParams)
	})

	t.Run("malformed recipient", func(t *testing.T) {
		t.Parallel()

		for _, addr := range []string{"not-an-email", "missing@tld", "two@@example.com", "spa ce@example.com"} {
			p := validParams()
			p.SendTo = addr
			assert.ErrorIs(t, p.Validate(), mailer.ErrInvalidParams, addr)
		}
	})

	t.Run("missing subject", func(t *testing.T) {
		t.Parallel()

		p := validParams()
		p.Subject = ""
		assert.ErrorIs(t, p.Validate(), mailer.ErrInvalidParams)
	})

	t.Run("missing body", func(t *testing.T) {
		t.Parallel()

		p := validParams()
		p.BodyHTML = ""
		assert.ErrorIs(t, p.Validate(), mailer.ErrInvalidParams)
	})
}

func TestDevSender(t *testing.T) {
	t.Parallel()

	t.Run("logs instead of sending", func(t *testing.T) {
		t.Parallel()

		buf := &bytes.Buffer{}
		log := slog.New(slog.NewTextHandler(buf, nil))
		sender := mailer.NewDevSender(log)

		require.NoError(t, sender.SendEmail(context.Background(), validParams()))
		out := buf.String()
		assert.Contains(t, out, "user@example.com")
		assert.Contains(t, out, "Delivery alert")
		assert.Contains(t, out, "not delivered")
	})

	t.Run("validates before logging", func(t *testing.T) {
		t.Parallel()

		sender := mailer.NewDevSender(nil)
		p := validParams()
		p.SendTo = "garbage"
		assert.ErrorIs(t, sender.SendEmail(context.Background(), p), mailer.ErrInvalidParams)
	})
}
