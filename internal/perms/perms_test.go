// System permissions-related code unit tests.
package perms_test

import (
	"os/user"
	"strconv"
	"testing"

	"github.com/go-pna/pnafs/internal/perms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type PermsTest struct {
	suite.Suite
}

func TestPermsSuite(t *testing.T) {
	suite.Run(t, new(PermsTest))
}

func (t *PermsTest) TestMyUserAndGroupNoError() {
	uid, gid, err := perms.MyUserAndGroup()
	assert.NoError(t.T(), err)

	unexpectedIDSigned := -1
	unexpectedID := uint32(unexpectedIDSigned)
	assert.NotEqual(t.T(), uid, unexpectedID)
	assert.NotEqual(t.T(), gid, unexpectedID)
}

func (t *PermsTest) TestResolveOwnerNilRecordFallsBackToCurrentIdentity() {
	wantUID, wantGID, err := perms.MyUserAndGroup()
	t.Require().NoError(err)

	uid, gid := perms.ResolveOwner(nil)

	assert.Equal(t.T(), wantUID, uid)
	assert.Equal(t.T(), wantGID, gid)
}

func (t *PermsTest) TestResolveOwnerByNumericIDFallback() {
	// A name that cannot possibly resolve, but a numeric id that the host
	// actually has, should resolve via the id fallback.
	me, err := user.Current()
	t.Require().NoError(err)
	uidNum, err := strconv.Atoi(me.Uid)
	t.Require().NoError(err)

	rec := &perms.OwnerRecord{
		UserName: "pnafs-test-user-does-not-exist",
		UID:      uint32(uidNum),
		GroupName: "pnafs-test-group-does-not-exist",
	}

	uid, _ := perms.ResolveOwner(rec)

	assert.Equal(t.T(), uint32(uidNum), uid)
}
