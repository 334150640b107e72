package commands

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/opd-ai/mtcore/session"
	"github.com/opd-ai/mtcore/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// constructorReqPQMulti opens an unencrypted key exchange. Datacenters answer
// it with resPQ.
const constructorReqPQMulti = 0xbe7e8ef1

func probeCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check that the configured datacenter answers over the obfuscated transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := cfg.Address()
			if err != nil {
				return err
			}
			dialer, err := transport.NewDialer(cfg.Transport.DialTimeout, cfg.Proxy)
			if err != nil {
				return err
			}

			opts := transport.NewOptions()
			opts.Dialer = dialer
			opts.DialTimeout = cfg.Transport.DialTimeout
			opts.Protocol = cfg.Protocol()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			result, err := probe(ctx, transport.NewFramer(opts), address, rand.Reader)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "overall probe deadline")
	return cmd
}

// reqPQMultiBody builds req_pq_multi with a random 128-bit nonce.
func reqPQMultiBody(r io.Reader) ([]byte, error) {
	body := make([]byte, 4+16)
	binary.LittleEndian.PutUint32(body[0:4], constructorReqPQMulti)
	if _, err := io.ReadFull(r, body[4:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return body, nil
}

// probe connects, sends one plain request and describes the reply.
func probe(ctx context.Context, framer *transport.Framer, address string, r io.Reader) (string, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "probe",
		"address":  address,
		"protocol": cfg.Protocol().String(),
	})

	started := time.Now()
	if err := framer.Connect(ctx, address); err != nil {
		return "", err
	}
	defer framer.Close()

	stop := context.AfterFunc(ctx, func() { framer.Close() })
	defer stop()

	body, err := reqPQMultiBody(r)
	if err != nil {
		return "", err
	}
	if err := framer.Send(session.EncodePlain(session.MsgIDAt(time.Now()), body)); err != nil {
		return "", err
	}
	logger.Debug("Sent req_pq_multi")

	reply, err := framer.Receive()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("no reply from %s: %w", address, ctx.Err())
		}
		return "", err
	}
	rtt := time.Since(started).Round(time.Millisecond)

	if te, ok := transport.ParseTransportError(reply); ok {
		return fmt.Sprintf("%s answered with %v after %s", address, te, rtt), nil
	}

	msgID, answer, err := session.DecodePlain(reply)
	if err != nil {
		return "", fmt.Errorf("unexpected reply from %s: %w", address, err)
	}
	logger.WithFields(logrus.Fields{
		"msg_id":    msgID,
		"body_size": len(answer),
	}).Info("Probe answered")

	skew := session.MsgIDTime(msgID).Sub(time.Now()).Round(time.Second)
	return fmt.Sprintf("%s answered %d bytes after %s (server clock skew %s)", address, len(answer), rtt, skew), nil
}
