package license

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	apperrors "macrotool/internal/errors"
	"macrotool/internal/security"
)

const testMachineID = "0123456789abcdef"

type stubMachine struct {
	id  string
	err error
}

func (s stubMachine) MachineID(context.Context) (string, error) {
	return s.id, s.err
}

func testKeys(t *testing.T, seed byte) *security.KeySet {
	t.Helper()
	keys, err := security.DeriveKeySet(bytes.Repeat([]byte{seed}, security.MinSecretSize))
	require.NoError(t, err)
	return keys
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ValidatorTestSuite exercises the validation pipeline against files on disk
type ValidatorTestSuite struct {
	suite.Suite
	dir       string
	path      string
	keys      *security.KeySet
	issuer    *Issuer
	now       time.Time
	validator *Validator
}

func (s *ValidatorTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.path = filepath.Join(s.dir, "license.key")
	s.keys = testKeys(s.T(), 0x11)
	s.now = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

	var err error
	s.issuer, err = NewIssuer(s.keys)
	require.NoError(s.T(), err)

	s.validator = s.newValidator(stubMachine{id: testMachineID})
}

func (s *ValidatorTestSuite) newValidator(machine MachineIdentifier, opts ...Option) *Validator {
	base := []Option{WithClock(fixedClock(s.now)), WithLocation(time.UTC)}
	v, err := NewValidator(s.keys, machine, append(base, opts...)...)
	require.NoError(s.T(), err)
	return v
}

func (s *ValidatorTestSuite) writeToken(token []byte) {
	require.NoError(s.T(), WriteLicenseFile(s.path, token))
}

func (s *ValidatorTestSuite) issue(machineID string, expiry time.Time) []byte {
	_, token, err := s.issuer.Issue(machineID, expiry)
	require.NoError(s.T(), err)
	return token
}

// sealRaw encrypts an arbitrary payload with the suite's encryption key
func (s *ValidatorTestSuite) sealRaw(payload string) []byte {
	codec, err := security.NewTokenCodec(0, s.keys.Encryption)
	require.NoError(s.T(), err)
	token, err := codec.Seal([]byte(payload))
	require.NoError(s.T(), err)
	return token
}

func (s *ValidatorTestSuite) assertKind(err error, kind Kind) {
	s.T().Helper()
	require.Error(s.T(), err)
	assert.Equal(s.T(), kind, KindOf(err), "error: %v", err)
	assert.ErrorIs(s.T(), err, kind.Sentinel())
}

func (s *ValidatorTestSuite) TestValidLicense() {
	s.writeToken(s.issue(testMachineID, date(2025, time.December, 31)))

	rec, err := s.validator.Validate(context.Background(), s.path)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), testMachineID, rec.IssuedTo)
	assert.Equal(s.T(), date(2025, time.December, 31), rec.Expiry)
}

func (s *ValidatorTestSuite) TestValidOnExpiryDate() {
	s.writeToken(s.issue(testMachineID, date(2025, time.June, 15)))

	_, err := s.validator.Validate(context.Background(), s.path)
	assert.NoError(s.T(), err)
}

func (s *ValidatorTestSuite) TestMissingFile() {
	_, err := s.validator.Validate(context.Background(), filepath.Join(s.dir, "absent.key"))
	s.assertKind(err, KindIO)
	assert.ErrorIs(s.T(), err, os.ErrNotExist)
}

func (s *ValidatorTestSuite) TestUnreadableDirectory() {
	_, err := s.validator.Validate(context.Background(), s.dir)
	s.assertKind(err, KindIO)
}

func (s *ValidatorTestSuite) TestCorruptContents() {
	tests := []struct {
		name  string
		token []byte
	}{
		{"empty file", []byte{}},
		{"whitespace only", []byte("  \n")},
		{"not base64", []byte("this is not a license")},
		{"truncated token", s.issue(testMachineID, date(2025, time.December, 31))[:40]},
		{"two fields", s.sealRaw(testMachineID + "|2025-12-31")},
		{"four fields", s.sealRaw(testMachineID + "|2025-12-31|aa|bb")},
		{"bad date", s.sealRaw(testMachineID + "|31/12/2025|aa")},
		{"empty issued_to", s.sealRaw("|2025-12-31|aa")},
		{"empty signature", s.sealRaw(testMachineID + "|2025-12-31|")},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			require.NoError(s.T(), os.WriteFile(s.path, tt.token, 0o600))
			_, err := s.validator.Validate(context.Background(), s.path)
			s.assertKind(err, KindCorrupt)
		})
	}
}

func (s *ValidatorTestSuite) TestOversizedFile() {
	require.NoError(s.T(), os.WriteFile(s.path, bytes.Repeat([]byte("A"), MaxFileSize+1), 0o600))
	_, err := s.validator.Validate(context.Background(), s.path)
	s.assertKind(err, KindCorrupt)
}

func (s *ValidatorTestSuite) TestWrongEncryptionKey() {
	other, err := NewIssuer(testKeys(s.T(), 0x22))
	require.NoError(s.T(), err)
	_, token, err := other.Issue(testMachineID, date(2025, time.December, 31))
	require.NoError(s.T(), err)
	s.writeToken(token)

	_, err = s.validator.Validate(context.Background(), s.path)
	s.assertKind(err, KindCorrupt)
}

func (s *ValidatorTestSuite) TestEverySingleBitFlipIsRejected() {
	token := s.issue(testMachineID, date(2025, time.December, 31))

	for i := range token {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), token...)
			mutated[i] ^= 1 << bit

			_, err := s.validator.ValidateToken(context.Background(), mutated)
			if !assert.Error(s.T(), err, "byte %d bit %d accepted", i, bit) {
				return
			}
			kind := KindOf(err)
			assert.True(s.T(), kind == KindCorrupt || kind == KindTampered,
				"byte %d bit %d: unexpected kind %s", i, bit, kind)
		}
	}
}

func (s *ValidatorTestSuite) TestForgedSignature() {
	forged := &Record{IssuedTo: testMachineID, Expiry: date(2025, time.December, 31)}
	forged.Sign([]byte("not the signing key"))
	payload, err := forged.Encode()
	require.NoError(s.T(), err)
	s.writeToken(s.sealRaw(string(payload)))

	_, err = s.validator.Validate(context.Background(), s.path)
	s.assertKind(err, KindTampered)
}

func (s *ValidatorTestSuite) TestExtendedExpiryIsTampered() {
	rec := &Record{IssuedTo: testMachineID, Expiry: date(2025, time.July, 1)}
	rec.Sign(s.keys.Signing)
	// re-encrypting with a later date keeps the old signature
	payload := testMachineID + "|2030-01-01|" + rec.Signature
	s.writeToken(s.sealRaw(payload))

	_, err := s.validator.Validate(context.Background(), s.path)
	s.assertKind(err, KindTampered)
}

func (s *ValidatorTestSuite) TestExpired() {
	s.writeToken(s.issue(testMachineID, date(2025, time.June, 14)))

	_, err := s.validator.Validate(context.Background(), s.path)
	s.assertKind(err, KindExpired)

	var le *Error
	require.ErrorAs(s.T(), err, &le)
	require.NotNil(s.T(), le.Record)
	assert.Equal(s.T(), date(2025, time.June, 14), le.Record.Expiry)
	assert.Empty(s.T(), le.MachineID)
}

func (s *ValidatorTestSuite) TestExpiredRegardlessOfSignature() {
	s.writeToken(s.sealRaw(testMachineID + "|2020-01-01|deadbeef"))

	_, err := s.validator.Validate(context.Background(), s.path)
	s.assertKind(err, KindExpired)
}

func (s *ValidatorTestSuite) TestExpiryUsesLocalDate() {
	s.writeToken(s.issue(testMachineID, date(2025, time.June, 15)))

	late := time.Date(2025, time.June, 15, 22, 0, 0, 0, time.UTC)
	ahead := time.FixedZone("UTC+5", 5*60*60)

	v := s.newValidator(stubMachine{id: testMachineID}, WithClock(fixedClock(late)), WithLocation(ahead))
	_, err := v.Validate(context.Background(), s.path)
	s.assertKind(err, KindExpired)

	v = s.newValidator(stubMachine{id: testMachineID}, WithClock(fixedClock(late)), WithLocation(time.UTC))
	_, err = v.Validate(context.Background(), s.path)
	assert.NoError(s.T(), err)
}

func (s *ValidatorTestSuite) TestMachineMismatch() {
	s.writeToken(s.issue("fedcba9876543210", date(2025, time.December, 31)))

	_, err := s.validator.Validate(context.Background(), s.path)
	s.assertKind(err, KindMachineMismatch)

	var le *Error
	require.ErrorAs(s.T(), err, &le)
	require.NotNil(s.T(), le.Record)
	assert.Equal(s.T(), "fedcba9876543210", le.Record.IssuedTo)
	assert.Equal(s.T(), testMachineID, le.MachineID)
}

func (s *ValidatorTestSuite) TestMachineIDUnavailable() {
	s.writeToken(s.issue(testMachineID, date(2025, time.December, 31)))

	v := s.newValidator(stubMachine{err: errors.New("no interfaces")})
	_, err := v.Validate(context.Background(), s.path)
	s.assertKind(err, KindIO)
}

func (s *ValidatorTestSuite) TestErrorCarriesPath() {
	s.writeToken(s.issue(testMachineID, date(2025, time.June, 1)))

	_, err := s.validator.Validate(context.Background(), s.path)
	var le *Error
	require.ErrorAs(s.T(), err, &le)
	assert.Equal(s.T(), s.path, le.Path)
	assert.Contains(s.T(), err.Error(), s.path)
}

// sealAt issues a signed record whose Fernet timestamp is sealedAt
func (s *ValidatorTestSuite) sealAt(sealedAt time.Time) []byte {
	rec, err := NewRecord(testMachineID, date(2025, time.December, 31))
	require.NoError(s.T(), err)
	rec.Sign(s.keys.Signing)
	payload, err := rec.Encode()
	require.NoError(s.T(), err)
	token, err := fernet.EncryptAndSignAtTime(payload, s.keys.Encryption, sealedAt)
	require.NoError(s.T(), err)
	return token
}

func (s *ValidatorTestSuite) TestMaxTokenAge() {
	v := s.newValidator(stubMachine{id: testMachineID}, WithMaxTokenAge(time.Hour))

	tests := []struct {
		name     string
		sealedAt time.Time
		wantErr  bool
	}{
		{"within max age", s.now.Add(-30 * time.Minute), false},
		{"older than max age", s.now.Add(-2 * time.Hour), true},
		{"sealed in the future", s.now.Add(10 * time.Minute), true},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.writeToken(s.sealAt(tt.sealedAt))

			_, err := v.Validate(context.Background(), s.path)
			if tt.wantErr {
				s.assertKind(err, KindCorrupt)
				assert.ErrorIs(s.T(), err, security.ErrTokenRejected)
				return
			}
			require.NoError(s.T(), err)
		})
	}

	s.writeToken(s.sealAt(s.now.Add(-2 * time.Hour)))
	_, err := s.validator.Validate(context.Background(), s.path)
	assert.NoError(s.T(), err, "no max age configured")
}

func (s *ValidatorTestSuite) TestPreviousKeys() {
	retired := testKeys(s.T(), 0x33)
	codec, err := security.NewTokenCodec(0, retired.Encryption)
	require.NoError(s.T(), err)

	rec, err := NewRecord(testMachineID, date(2025, time.December, 31))
	require.NoError(s.T(), err)
	rec.Sign(s.keys.Signing)
	payload, err := rec.Encode()
	require.NoError(s.T(), err)
	token, err := codec.Seal(payload)
	require.NoError(s.T(), err)
	s.writeToken(token)

	_, err = s.validator.Validate(context.Background(), s.path)
	s.assertKind(err, KindCorrupt)

	v := s.newValidator(stubMachine{id: testMachineID}, WithPreviousKeys(retired))
	_, err = v.Validate(context.Background(), s.path)
	assert.NoError(s.T(), err)
}

func (s *ValidatorTestSuite) TestTrailingWhitespaceAccepted() {
	token := s.issue(testMachineID, date(2025, time.December, 31))
	require.NoError(s.T(), os.WriteFile(s.path, append(append([]byte(" "), token...), "\r\n"...), 0o600))

	_, err := s.validator.Validate(context.Background(), s.path)
	assert.NoError(s.T(), err)
}

func (s *ValidatorTestSuite) TestCheck() {
	ent := s.validator.Check(context.Background(), s.path)
	assert.False(s.T(), ent.Allowed())
	assert.Equal(s.T(), KindIO, ent.Kind())
	assert.ErrorIs(s.T(), ent.Require(FeatureAutoClick), apperrors.ErrLicenseRequired)

	s.writeToken(s.issue(testMachineID, date(2025, time.December, 31)))
	ent = s.validator.Check(context.Background(), s.path)
	assert.True(s.T(), ent.Allowed())
	assert.NoError(s.T(), ent.Require(FeatureAutoClick))
	assert.Equal(s.T(), s.now, ent.CheckedAt())
}

func (s *ValidatorTestSuite) TestActivate() {
	token := s.issue(testMachineID, date(2025, time.December, 31))

	rec, err := s.validator.Activate(context.Background(), s.path, append(token, '\n'))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), testMachineID, rec.IssuedTo)

	stored, err := os.ReadFile(s.path)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), append(token, '\n'), stored)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(s.path)
		require.NoError(s.T(), err)
		assert.Equal(s.T(), os.FileMode(0o600), info.Mode().Perm())
	}

	_, err = s.validator.Validate(context.Background(), s.path)
	assert.NoError(s.T(), err)
}

func (s *ValidatorTestSuite) TestActivateRejectedTokenKeepsExistingLicense() {
	good := s.issue(testMachineID, date(2025, time.December, 31))
	s.writeToken(good)

	_, err := s.validator.Activate(context.Background(), s.path, s.issue("someone-else", date(2025, time.December, 31)))
	s.assertKind(err, KindMachineMismatch)

	stored, err := os.ReadFile(s.path)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), append(good, '\n'), stored)
}

func (s *ValidatorTestSuite) TestActivateWriteFailure() {
	blocker := filepath.Join(s.dir, "blocker")
	require.NoError(s.T(), os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := s.validator.Activate(context.Background(), filepath.Join(blocker, "license.key"),
		s.issue(testMachineID, date(2025, time.December, 31)))
	s.assertKind(err, KindIO)
}

func TestValidatorTestSuite(t *testing.T) {
	suite.Run(t, new(ValidatorTestSuite))
}

func TestNewValidator_RequiresKeysAndMachine(t *testing.T) {
	keys := testKeys(t, 0x01)

	_, err := NewValidator(nil, stubMachine{id: "x"})
	assert.Error(t, err)

	_, err = NewValidator(&security.KeySet{Encryption: keys.Encryption}, stubMachine{id: "x"})
	assert.Error(t, err)

	_, err = NewValidator(keys, nil)
	assert.Error(t, err)

	_, err = NewValidator(keys, stubMachine{id: "x"}, WithMaxTokenAge(-time.Second))
	assert.Error(t, err)
}

func TestValidate_NeverPanics(t *testing.T) {
	keys := testKeys(t, 0x44)
	v, err := NewValidator(keys, stubMachine{id: testMachineID})
	require.NoError(t, err)

	inputs := [][]byte{
		nil,
		{0x00},
		bytes.Repeat([]byte{0xff}, 300),
		[]byte("gAAAAA"),
		[]byte("||"),
		[]byte("gAAAAABh" + string(bytes.Repeat([]byte("A"), 200))),
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			_, err := v.ValidateToken(context.Background(), in)
			assert.Error(t, err)
		})
	}
}
