package agents

import (
	"fmt"
	"time"
)

func systemPrompt(now time.Time) string {
	return fmt.Sprintf(`You are an expert researcher. Today is %s. Follow these instructions when responding:

- You may be asked to research subjects that are after your knowledge cutoff; assume the user is right when presented with news.
- The user is a highly experienced analyst. Be as detailed as possible and make sure your response is correct.
- Be highly organized and proactive.
- Value good arguments over authorities.
- Consider new technologies and contrarian ideas, not just the conventional wisdom.
- You may speculate or predict, but flag it clearly.`, now.Format(time.RFC3339))
}

const planPrompt = `Given the following query from the user:
<QUERY>
%s
</QUERY>

Generate a list of sections for the report.
The plan must be tight and focused with no overlapping sections or filler. Each section needs one sentence summarizing its content.

<GUIDELINES>
- Every section has a distinct purpose.
- Combine related concepts rather than separating them.
- Every section must be directly relevant to the main topic.
</GUIDELINES>`

const queriesPrompt = `This is the report plan:
<PLAN>
%s
</PLAN>

Based on the report plan, generate a list of search engine queries to research the topic. Make sure each query is unique and not similar to the others.`

const feedbackQueriesPrompt = `This is the report plan:
<PLAN>
%s
</PLAN>

Here are all the learnings from previous research:
<LEARNINGS>
%s
</LEARNINGS>

This is the suggested direction for further research:
<SUGGESTION>
%s
</SUGGESTION>

Based on the previous research and the suggestion, list follow-up search engine queries.
Make sure each query is unique and not similar to the others or to earlier research.
If no further research is needed, return an empty list of queries.`

const queriesSchema = `Return the JSON object directly without any formatting or additional text. The JSON object should have the following structure as defined in the schema:{
  "type": "object",
  "properties": {
    "queries": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "query": {"type": "string", "description": "The search engine query"},
          "researchGoal": {"type": "string", "description": "What this query should uncover and how to follow up on it"}
        },
        "required": ["query", "researchGoal"]
      }
    }
  },
  "required": ["queries"]
}`

const summarizePrompt = `Given the following search query:
<QUERY>
%s
</QUERY>

And the following context from the search:
<CONTEXT>
%s
</CONTEXT>

Organize the information according to this research goal:
<RESEARCH_GOAL>
%s
</RESEARCH_GOAL>

Generate a list of learnings from the context. Be accurate and don't drop details.
Each learning is unique, information dense, and names the entities, metrics, numbers and dates involved.

Citation rules:
- Each context entry has a unique id. Cite it at the end of the sentence that uses it, as [id].
- If a sentence uses several entries, list every id, e.g. [id1][id2].`

const gapsPrompt = `This is the report plan:
<PLAN>
%s
</PLAN>

Here are all the learnings from previous research:
<LEARNINGS>
%s
</LEARNINGS>

You are an expert research supervisor. Check whether every topic in the plan is sufficiently covered by the learnings, and whether important sub-topics surfaced that were not explored yet.

If you find gaps, reply with a specific suggestion to guide the next round of research.
If the research is comprehensive, reply with "SATISFIED".
Reply with only the suggestion or "SATISFIED".`

const reportPrompt = `This is the report plan:
<PLAN>
%s
</PLAN>

Here are all the learnings from previous research:
<LEARNINGS>
%s
</LEARNINGS>

Write a final report following the plan and using all of the learnings.
Aim for at least %d pages. Divide the report into sections and subsections as needed.
Respond with the report content only.

Citation rules:
- Keep the [id] citations found in the learnings, placed at the end of the paragraph that uses them.
- At most 3 citations per paragraph.
- Do not add a list of references at the end.`
