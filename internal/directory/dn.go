package directory

import "fmt"

// DN templates for the amon entities. The tree is rooted at the users
// container; probes and probe groups hang off their owning user.
const (
	UsersBaseDN           = "ou=users, o=smartdc"
	OperatorsDN           = "cn=operators, ou=groups, o=smartdc"
	ObjectClassUser       = "sdcperson"
	ObjectClassProbe      = "amonprobe"
	ObjectClassProbeGroup = "amonprobegroup"
)

// UserDN addresses a user entry.
func UserDN(userUUID string) string {
	return fmt.Sprintf("uuid=%s, %s", userUUID, UsersBaseDN)
}

// ProbeDN addresses a probe owned by a user.
func ProbeDN(userUUID, probeUUID string) string {
	return fmt.Sprintf("amonprobe=%s, %s", probeUUID, UserDN(userUUID))
}

// ProbeGroupDN addresses a probe group owned by a user.
func ProbeGroupDN(userUUID, groupUUID string) string {
	return fmt.Sprintf("amonprobegroup=%s, %s", groupUUID, UserDN(userUUID))
}
