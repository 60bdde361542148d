package memfs

// ACLTag says which principal an ACL entry applies to.
type ACLTag uint8

const (
	ACLUser ACLTag = iota + 1
	ACLGroup
	ACLOther
)

// ACLEntry grants Perm (rwx bits) to one principal.
type ACLEntry struct {
	Tag  ACLTag
	ID   uint32
	Perm uint32
}

// ACL is an ordered list of extra grants evaluated after the mode bits.
type ACL struct {
	Entries []ACLEntry
}

// Clone returns a deep copy.
func (a *ACL) Clone() *ACL {
	if a == nil {
		return nil
	}
	return &ACL{Entries: append([]ACLEntry(nil), a.Entries...)}
}

// grants reports whether an entry matching cred allows every bit of mask.
func (a *ACL) grants(cred Cred, mask uint32) bool {
	if a == nil {
		return false
	}
	for _, e := range a.Entries {
		switch e.Tag {
		case ACLUser:
			if e.ID != cred.UID {
				continue
			}
		case ACLGroup:
			if e.ID != cred.GID {
				continue
			}
		case ACLOther:
		default:
			continue
		}
		if e.Perm&mask == mask {
			return true
		}
	}
	return false
}

// checkPermission evaluates mask against the owner/group/other mode bits and
// then the ACL. Root is always allowed.
func checkPermission(cred Cred, uid, gid, mode uint32, acl *ACL, mask uint32) bool {
	if cred.UID == 0 {
		return true
	}
	var bits uint32
	switch {
	case cred.UID == uid:
		bits = (mode >> 6) & 7
	case cred.GID == gid:
		bits = (mode >> 3) & 7
	default:
		bits = mode & 7
	}
	if bits&mask == mask {
		return true
	}
	return acl.grants(cred, mask)
}
