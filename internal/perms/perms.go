// Package perms resolves archive permission records (uname/uid/gname/gid)
// to local uid/gid via the host's user/group database, falling back to the
// current process identity when a record is absent or cannot be resolved.
package perms

import (
	"os/user"
	"runtime"
	"strconv"
)

// OwnerRecord mirrors the archive codec's permission record: the
// human-readable and numeric identity an entry was created under.
type OwnerRecord struct {
	UserName  string
	UID       uint32
	GroupName string
	GID       uint32
}

// MyUserAndGroup returns the uid/gid of the running process. On non-POSIX
// hosts (no os/user support) it returns 0, 0.
func MyUserAndGroup() (uid uint32, gid uint32, err error) {
	if runtime.GOOS == "windows" || runtime.GOOS == "js" {
		return 0, 0, nil
	}

	me, err := user.Current()
	if err != nil {
		return 0, 0, err
	}

	uidNum, err := strconv.Atoi(me.Uid)
	if err != nil {
		return 0, 0, err
	}
	gidNum, err := strconv.Atoi(me.Gid)
	if err != nil {
		return 0, 0, err
	}
	return uint32(uidNum), uint32(gidNum), nil
}

// ResolveOwner resolves an archive entry's owner: name lookup first, then
// numeric id, then current-process fallback. A nil record means the
// archive entry carried no permission record at all, which resolves
// directly to the current identity.
func ResolveOwner(rec *OwnerRecord) (uid uint32, gid uint32) {
	myUID, myGID, err := MyUserAndGroup()
	if err != nil {
		myUID, myGID = 0, 0
	}
	if rec == nil {
		return myUID, myGID
	}

	uid = resolveUID(rec.UserName, rec.UID, myUID)
	gid = resolveGID(rec.GroupName, rec.GID, myGID)
	return uid, gid
}

func resolveUID(name string, numeric uint32, fallback uint32) uint32 {
	if runtime.GOOS == "windows" || runtime.GOOS == "js" {
		return 0
	}
	if name != "" {
		if u, err := user.Lookup(name); err == nil {
			if id, err := strconv.Atoi(u.Uid); err == nil {
				return uint32(id)
			}
		}
	}
	if u, err := user.LookupId(strconv.FormatUint(uint64(numeric), 10)); err == nil {
		if id, err := strconv.Atoi(u.Uid); err == nil {
			return uint32(id)
		}
	}
	return fallback
}

func resolveGID(name string, numeric uint32, fallback uint32) uint32 {
	if runtime.GOOS == "windows" || runtime.GOOS == "js" {
		return 0
	}
	if name != "" {
		if g, err := user.LookupGroup(name); err == nil {
			if id, err := strconv.Atoi(g.Gid); err == nil {
				return uint32(id)
			}
		}
	}
	if g, err := user.LookupGroupId(strconv.FormatUint(uint64(numeric), 10)); err == nil {
		if id, err := strconv.Atoi(g.Gid); err == nil {
			return uint32(id)
		}
	}
	return fallback
}
