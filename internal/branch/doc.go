// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package branch manages conversation forking and lineage.
//
// A branch is a new conversation whose ParentID points at its source
// and whose initial timeline is a copy of the source up to the branch
// point. Lineage forms a tree: parent pointers are assigned once at
// creation and never reassigned. ComputeBranchPath is the single place
// lineage is walked, root-first.
//
// Switching branches moves a pointer and loads a timeline; it mutates
// no conversation data.
package branch
