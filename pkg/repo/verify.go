package repo

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/pkg/errors"
)

// VerificationError reports a release manifest whose signature could
// not be verified against the repository's trusted keyring. It is
// never retried.
type VerificationError struct {
	Repo string
	Err  error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed for repository %s: %v", e.Repo, e.Err)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// LoadKeyring reads and concatenates the armored key files trusted by
// one repository.
func LoadKeyring(paths []string) (openpgp.EntityList, error) {
	var keyring openpgp.EntityList
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "opening key file %s", path)
		}
		entities, err := openpgp.ReadArmoredKeyRing(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "reading key file %s", path)
		}
		keyring = append(keyring, entities...)
	}
	if len(keyring) == 0 {
		return nil, errors.New("trusted keyring is empty")
	}
	return keyring, nil
}

// VerifyRelease checks a release manifest against the trusted keyring
// and returns the signed payload. Clear-signed documents carry their
// signature inline; otherwise a detached armored signature must be
// supplied. Verification fails if no trusted key produced the
// signature, or the signing key is expired or revoked; structural
// errors fail the same way and are not retried.
func VerifyRelease(keyring openpgp.EntityList, data, detachedSig []byte) ([]byte, error) {
	config := &packet.Config{}

	if block, _ := clearsign.Decode(data); block != nil {
		_, err := openpgp.CheckDetachedSignature(
			keyring,
			bytes.NewReader(block.Bytes),
			block.ArmoredSignature.Body,
			config,
		)
		if err != nil {
			return nil, errors.Wrap(err, "clear-signed manifest")
		}
		return block.Plaintext, nil
	}

	if len(detachedSig) == 0 {
		return nil, errors.New("manifest is not clear-signed and no detached signature was provided")
	}
	_, err := openpgp.CheckArmoredDetachedSignature(
		keyring,
		bytes.NewReader(data),
		bytes.NewReader(detachedSig),
		config,
	)
	if err != nil {
		return nil, errors.Wrap(err, "detached signature")
	}
	return data, nil
}
