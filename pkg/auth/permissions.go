// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package auth

import "github.com/olav-network/olav/pkg/olaverr"

// Capability is a named permission checked at the API boundary and at tool
// selection time.
type Capability string

const (
	CapabilityReadWorkflow   Capability = "read_workflow"
	CapabilityWriteWorkflow  Capability = "write_workflow"
	CapabilityExpertWorkflow Capability = "expert_workflow"
	CapabilityHITLAutoApprove Capability = "hitl_auto_approve"
	CapabilitySessionManage  Capability = "session_manage"
)

// viewer gets none of the write/expert/management capabilities,
// operator gets write+expert but never auto-approve, admin gets
// everything.
var matrix = map[Role]map[Capability]bool{
	RoleAdmin: {
		CapabilityReadWorkflow:    true,
		CapabilityWriteWorkflow:   true,
		CapabilityExpertWorkflow:  true,
		CapabilityHITLAutoApprove: true,
		CapabilitySessionManage:   true,
	},
	RoleOperator: {
		CapabilityReadWorkflow:   true,
		CapabilityWriteWorkflow:  true,
		CapabilityExpertWorkflow: true,
	},
	RoleViewer: {
		CapabilityReadWorkflow: true,
	},
}

// Allows reports whether role carries capability.
func Allows(role Role, capability Capability) bool {
	return matrix[role][capability]
}

// Require returns olaverr.PermissionDenied if role lacks capability. A
// denial is always an explicit error, never a silent no-op.
func Require(role Role, capability Capability) error {
	if Allows(role, capability) {
		return nil
	}
	return olaverr.New(olaverr.PermissionDenied, "role %q lacks capability %q", role, capability)
}
