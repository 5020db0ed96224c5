package mcpserver

// LineFormatContract describes how linestore splits files into lines and
// addresses them, for LLM consumers that edit files line by line.
const LineFormatContract = `# linestore Line Format Contract

Files are plain byte sequences. linestore addresses them by **0-based line
ordinal**, recomputed from the start of the file on every call.

## Lines

- A line is a run of bytes up to, not including, a ` + "`\\n`" + `.
- ` + "`\\r`" + ` is ordinary content. Nothing is trimmed or normalized besides ` + "`\\n`" + `.
- A trailing fragment without ` + "`\\n`" + ` is still a line for reads and counts.
- Comparisons are byte-exact; there is no Unicode folding.

## Counting

` + "`count_lines`" + ` returns two numbers:

1. ` + "`terminators`" + `: how many ` + "`\\n`" + ` bytes the file holds.
2. ` + "`lines`" + `: terminators plus one when the file ends in an unterminated
   fragment. Use this one to bound ordinals.

## Editing

1. **Every line-addressed edit rewrites the whole file** and terminates
   every line with exactly one ` + "`\\n`" + `, including a former trailing fragment.
2. ` + "`insert_line`" + ` at ordinal *n* shifts line *n* and everything after it
   down by one. ` + "`delete_lines`" + ` shifts later lines up. Re-read ordinals after
   each edit; they are not stable identifiers.
3. ` + "`replace_line`" + ` on a missing ordinal leaves the content unchanged.
4. ` + "`delete_lines`" + ` with *first* past the end fails with "out of range".
   A *last* past the end is clamped.
5. Content passed to ` + "`replace_line`" + ` and ` + "`insert_line`" + ` must be a single line.
6. ` + "`append_text`" + ` writes bytes verbatim: include your own ` + "`\\n`" + `.

## Example

A file holding ` + "`a\\nb\\nc`" + ` has terminators=2, lines=3.
After ` + "`replace_line(line=1, content=\"X\")`" + ` it holds ` + "`a\\nX\\nc\\n`" + `.
`
