package mcpserver

// PageFormatContract describes the stored page format for LLM clients.
const PageFormatContract = `# xwiki Page Format

Pages are stored in the document repository as Markdown with a YAML header.
The create_page and update_page tools build this file from their arguments;
you only supply the fields and the body.

## Stored file

` + "```" + `markdown
---
title: Elven Villages           # required
category: lore                  # optional
author: alice                   # optional
status: active                  # active | draft | archived
summary: Where the elves live   # optional
created: 2025-01-15T10:00:00Z
updated: 2025-01-16T08:30:00Z
tags:
  - race/elf
  - location
---

Body text in standard Markdown.
` + "```" + `

## Rules

1. **Slugs** are lowercase paths with forward slashes, e.g. ` + "`" + `lore/elven-villages` + "`" + `.
   When omitted the slug is derived from the title (spaces become hyphens).
2. **Tags** may be hierarchical (` + "`" + `race/elf` + "`" + `); the last segment is the display name.
3. **Status** is one of ` + "`" + `active` + "`" + `, ` + "`" + `draft` + "`" + `, ` + "`" + `archived` + "`" + `. Deleting a page
   moves it under ` + "`" + `archived/` + "`" + ` instead of removing it.
4. **Concurrent edits.** read_page returns ` + "`" + `github_sha` + "`" + `. Pass it to update_page as
   ` + "`" + `expected_sha` + "`" + `; if someone else saved first the update is rejected with the current
   content so you can merge and retry. ` + "`" + `force` + "`" + ` overwrites without checking.
5. **Images** are uploaded with upload_image and referenced by the returned URL:
   ` + "`" + `![description](https://.../images/20250115_100000_ab12cd34.png)` + "`" + `.
   Supported formats: png, jpg, jpeg, gif, webp; at most 2 MB.
`
