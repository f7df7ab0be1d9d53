package openai

const summaryPrompt = `Summarize the given chat message and return the summary as JSON.

Output ONLY valid JSON of the form {"summary": "..."}. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }.

Rules:
- The summary must be one or two sentences, at most 40 words.
- Write in the third person and the present tense.
- Preserve concrete facts: names, numbers, dates, and decisions.
- Do not quote the message verbatim and do not add information that is not in the message.
- If the message is already a single short sentence, restate it compactly rather than padding it.
- The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.

Example:
Input: "hey so i talked to the landlord and we can move in on the 15th, rent is 1400 a month which is less than we thought"
Output:
{"summary": "The sender reports the landlord approved a move-in on the 15th at a rent of 1400 per month, lower than expected."}

Example:
Input: "what time is the meeting tomorrow"
Output:
{"summary": "The sender asks what time tomorrow's meeting is."}`
