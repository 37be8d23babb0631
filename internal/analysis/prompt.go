package analysis

const assessPrompt = `Analyze the image for earthquake safety risks and respond in exactly this format:

Safety Score: <0-100>/100
Estimated Magnitude Survivability: <magnitude, e.g. 7.5, or a range such as 7.0-7.5>

### Safety Features
- <feature>

### Potential Concerns
- <concern>

Base the score only on what is visible: structural condition, unsecured objects that could fall, blocked exits and evacuation paths.`

const analyzePrompt = `Please evaluate the uploaded city location image for earthquake safety issues. Focus on obvious risks like falling debris, unstable structures, or blocked evacuation paths. Provide short, clear bullet points with specific recommendations. Limit your response to 5 bullet points or fewer.`

const chatSystemPrompt = `You are QuakeSafe Assistant. You give practical, calm, accurate earthquake safety information: how to prepare a home, what to do during shaking (drop, cover, hold on), and what to check afterwards. Keep answers short. If someone describes an emergency in progress, tell them to contact local emergency services first.`
