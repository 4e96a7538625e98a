package access

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AegisVault/internal/state"
)

// Role identifiers are keccak256 of the role name. The default admin role is
// the zero hash and administers every role unless reassigned.
var (
	DefaultAdminRole = common.Hash{}
	AdminRole        = crypto.Keccak256Hash([]byte("ADMIN_ROLE"))
	UpgraderRole     = crypto.Keccak256Hash([]byte("UPGRADER_ROLE"))
)

var ErrUnauthorized = errors.New("access: unauthorized")

// ErrBadConfirmation is returned by RenounceRole when the caller names an
// account other than itself.
var ErrBadConfirmation = errors.New("access: can only renounce roles for self")

// UnauthorizedError reports the account and the role it lacks.
type UnauthorizedError struct {
	Account common.Address
	Role    common.Hash
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("access: account %s is missing role %s", e.Account.Hex(), RoleName(e.Role))
}

func (e *UnauthorizedError) Is(target error) bool {
	return target == ErrUnauthorized
}

// RoleName returns a readable label for known roles.
func RoleName(role common.Hash) string {
	switch role {
	case DefaultAdminRole:
		return "DEFAULT_ADMIN_ROLE"
	case AdminRole:
		return "ADMIN_ROLE"
	case UpgraderRole:
		return "UPGRADER_ROLE"
	default:
		return role.Hex()
	}
}

// RoleGranted is logged when an account gains a role.
type RoleGranted struct {
	Role    common.Hash
	Account common.Address
	Sender  common.Address
}

func (RoleGranted) LogName() string { return "RoleGranted" }

// RoleRevoked is logged when an account loses a role.
type RoleRevoked struct {
	Role    common.Hash
	Account common.Address
	Sender  common.Address
}

func (RoleRevoked) LogName() string { return "RoleRevoked" }

// Roles is a journaled role table.
type Roles struct {
	journal *state.Journal
	members map[common.Hash]map[common.Address]bool
	admins  map[common.Hash]common.Hash
}

func NewRoles(j *state.Journal) *Roles {
	return &Roles{
		journal: j,
		members: make(map[common.Hash]map[common.Address]bool),
		admins:  make(map[common.Hash]common.Hash),
	}
}

func (r *Roles) HasRole(role common.Hash, account common.Address) bool {
	return r.members[role][account]
}

// CheckRole returns an *UnauthorizedError when account lacks role.
func (r *Roles) CheckRole(role common.Hash, account common.Address) error {
	if !r.HasRole(role, account) {
		return &UnauthorizedError{Account: account, Role: role}
	}
	return nil
}

// RoleAdmin returns the role allowed to grant and revoke role.
func (r *Roles) RoleAdmin(role common.Hash) common.Hash {
	return r.admins[role]
}

// GrantRole grants role to account if sender holds the role's admin role.
func (r *Roles) GrantRole(sender common.Address, role common.Hash, account common.Address) error {
	if err := r.CheckRole(r.RoleAdmin(role), sender); err != nil {
		return err
	}
	r.Grant(role, account, sender)
	return nil
}

// RevokeRole revokes role from account if sender holds the role's admin role.
func (r *Roles) RevokeRole(sender common.Address, role common.Hash, account common.Address) error {
	if err := r.CheckRole(r.RoleAdmin(role), sender); err != nil {
		return err
	}
	r.revoke(role, account, sender)
	return nil
}

// RenounceRole drops role from the caller.
func (r *Roles) RenounceRole(sender common.Address, role common.Hash, confirmation common.Address) error {
	if sender != confirmation {
		return ErrBadConfirmation
	}
	r.revoke(role, sender, sender)
	return nil
}

// Grant adds account to role without an authorization check. Construction
// and snapshot migration use it.
func (r *Roles) Grant(role common.Hash, account, sender common.Address) {
	if r.HasRole(role, account) {
		return
	}
	r.setMember(role, account, true)
	r.journal.AddLog(RoleGranted{Role: role, Account: account, Sender: sender})
}

func (r *Roles) revoke(role common.Hash, account, sender common.Address) {
	if !r.HasRole(role, account) {
		return
	}
	r.setMember(role, account, false)
	r.journal.AddLog(RoleRevoked{Role: role, Account: account, Sender: sender})
}

func (r *Roles) setMember(role common.Hash, account common.Address, member bool) {
	m, ok := r.members[role]
	if !ok {
		m = make(map[common.Address]bool)
		r.members[role] = m
	}
	prev := m[account]
	if member {
		m[account] = true
	} else {
		delete(m, account)
	}
	r.journal.Append(state.ChangeFunc(func() {
		if prev {
			m[account] = true
		} else {
			delete(m, account)
		}
	}))
}

// Members returns the holders of role in byte order.
func (r *Roles) Members(role common.Hash) []common.Address {
	out := make([]common.Address, 0, len(r.members[role]))
	for a := range r.members[role] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

// Assignment is the serialisable form of one role membership.
type Assignment struct {
	Role    common.Hash    `json:"role"`
	Account common.Address `json:"account"`
}

// Export lists every membership in a deterministic order.
func (r *Roles) Export() []Assignment {
	roles := make([]common.Hash, 0, len(r.members))
	for role := range r.members {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Hex() < roles[j].Hex() })

	var out []Assignment
	for _, role := range roles {
		for _, a := range r.Members(role) {
			out = append(out, Assignment{Role: role, Account: a})
		}
	}
	return out
}

// Import restores memberships without logging.
func (r *Roles) Import(assignments []Assignment) {
	for _, a := range assignments {
		m, ok := r.members[a.Role]
		if !ok {
			m = make(map[common.Address]bool)
			r.members[a.Role] = m
		}
		m[a.Account] = true
	}
}
