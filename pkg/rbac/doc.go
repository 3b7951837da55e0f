// Package rbac evaluates and manages per-user permission grants.
//
// A grant (user_permission row) names a permission key and optionally a
// target and a level. Levels are bitmasks from permission_level_lk, loaded
// once into the Evaluator's cache; a granted level satisfies a requested one
// when it contains all of the requested bits:
//
//	READ=1 WRITE=2 DELETE=4 ADMIN=7
//	grant ADMIN, ask WRITE  -> allowed (7&2 == 2)
//	grant READ,  ask WRITE  -> denied
//
// Targets:
//
//	ALL            matches any requested target
//	SELF           matches when the subject is the acting user
//	"<id>"         matches that exact requested target
//	absent         matches only a request without a target
//
// The same absent-matches-absent rule applies to levels. Grants are unique
// per (user, key, target, level); a repeat grant is auth.ErrResourceAlreadyExists.
//
// Handlers exposes the evaluator over HTTP under /api/permissions and guards
// itself with the MANAGE_PERMISSIONS key.
package rbac
