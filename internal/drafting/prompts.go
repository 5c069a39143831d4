package drafting

import "strings"

// Prompt templates. Placeholders are substituted with FormatPrompt so the
// literal braces that crop up in examples survive formatting.

// draftSystemPrompt frames prose section drafting.
const draftSystemPrompt = `You are drafting one section of a professional report.
Write tight, factual markdown prose. Start the section with a level-2 header.
If you need to reason first, do it inside a <scratchpad> tag; scratchpad content is discarded.`

// recordsSystemPrompt frames structured drafting for sections with a schema.
// The closing marker line gives the parser an unambiguous end of data.
const recordsSystemPrompt = `You produce structured data as a pipe-delimited markdown table.
Rules:
- Output exactly one table: a header row, a divider row, then one row per record.
- Use only these columns, in this order: {fields}.
- Never use the pipe character inside a cell; write "or" instead.
- Join multi-line cell content with <br>.
- After the last row, finish with the line "End of report."`

// conversionPrompt re-presents text that resisted direct parsing and asks
// for a clean table back. Column mapping is positional: values map to the
// schema's columns in their left-to-right order of appearance.
const conversionPrompt = `Convert the data below into a single pipe-delimited markdown table.
Each record becomes one row. Map values onto these columns in their
left-to-right order of appearance: {fields}.

If a record carries fewer values than there are columns, fill the columns in
order and leave the rest empty. If it carries more values, drop the extras.
Given the columns id, name, notes, the fragment

| 41 | pump housing |

becomes

| 41 | pump housing |  |

Treat this as a single shot: return ALL the records you were given in one
table, reproduce cell content verbatim, and never summarize. Skip elements
that are formatting rather than data, such as a trailing "End of report."
marker. Output only the table.

# ACTUAL DATA TO BE CONVERTED
---
{data}
---`

// repairPrompt asks for a cleanly reformatted table without changing the
// data. Used by the gateway-backed repairer.
const repairPrompt = `The text below should contain a pipe-delimited markdown table with the
columns {fields}, but its formatting may have degraded. Rewrite it as one
clean table: a header row, a divider row, one row per record. Reproduce
cell content verbatim; never invent, merge, or drop records. Output only
the table.

---
{data}
---`

// synthesisSystemPrompt frames the final assembly call.
const synthesisSystemPrompt = `You assemble final reports from drafted sections.
Weave the sections into one coherent document: keep their order, merge
overlapping material, and keep every concrete figure. Output the complete
report inside a single <report> tag.`

// synthesisUserPrompt carries the title and the tagged section drafts.
const synthesisUserPrompt = `# {title}

The drafted sections follow, each inside a tag named after its section.
Assemble them into the final report.

{sections}`

// fieldList renders schema field names for prompt substitution.
func fieldList(names []string) string {
	return strings.Join(names, ", ")
}
