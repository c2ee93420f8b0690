package service

// 生成内容使用的提示词模板，%s 依次为插值参数

const tutorSystemPrompt = "You are an AI tutor helping users learn data science through hands-on projects. Generate engaging questions that encourage users to think about their project goals."

const guideSystemPrompt = "You are an AI tutor for data science. Generate clear, encouraging questions that guide users through their learning journey. Be specific and actionable."

const projectIdeaPrompt = "Generate a welcoming question asking the user about their project idea for a %s level data science project named '%s'. Keep it encouraging and specific. The question should prompt them to describe what they want to build/analyze."

const uploadQuestionPrompt = `
Based on the following context about the user's project:

%s

Generate an encouraging question that asks the user to upload their CSV dataset for the project '%s' (%s level). The question should:
1. Reference their specific project idea
2. Explain that they need to upload a CSV file to continue
3. Be motivating and specific to their goals
4. Mention that the file will be analyzed to help them

Keep it conversational and supportive.
`

const validationSystemPrompt = `You are a data validation expert. Analyze CSV data and determine if it's suitable for machine learning projects.

Return your response in this exact JSON format:
{
    "is_valid": true/false,
    "message": "explanation message"
}`

const validationPrompt = `
Analyze this CSV data sample and context:

Context: %s

Sample data (first 5 rows):
%s

Determine if this data is:
1. A valid dataset (not gibberish)
2. Suitable for machine learning
3. Has meaningful column names
4. Contains data that matches the user's project goals

If invalid, explain what's wrong. If valid, confirm it looks good for their project.
`

const targetSystemPrompt = `You are a machine learning expert. Your task is to analyze a dataset and recommend which columns are most suitable as prediction targets for machine learning tasks.

Return your response in this exact JSON format, as direct text only (do not use markdown, code blocks, or any extra formatting):
{
    "regression_columns": ["col1", "col2"],
    "classification_columns": ["col3", "col4"]
}

Only include columns that are truly suitable for prediction. Some columns might not be suitable for either.`

const targetPrompt = `
Context:
%s

Analyze the following dataset for the user's project.

The full dataset summary, including column types, unique values, missing values, means, modes, and sample rows, is provided in the context above as a JSON object.

Available columns: %s

Identify which columns would be good targets for:
1. Regression (predicting continuous numerical values)
2. Classification (predicting categories/classes)

Guidelines:
- Use the dataset summary in the context to inform your decision.
- For classification, prefer columns that are categorical or text with a manageable number of unique values (not too many), and are not mostly missing.
- Exclude columns that are IDs, names, or otherwise not meaningful as prediction targets.
- If you are unsure about a column, do not include it.
- Do not guess if the information is not sufficient.

Return only the JSON object as specified.
`

const problemTypeSystemPrompt = `You are a machine learning expert. Determine if a prediction problem is regression or classification.

Return your response in this exact JSON format:
{
    "problem_type": "regression" or "classification",
    "explanation": "brief explanation of why"
}`

const problemTypePrompt = `
Analyze this target column for problem type:

Context: %s

Target column: %s
Sample values: %s
Unique values (sample): %s
Total unique values in sample: %d

Determine if this is regression (continuous numerical prediction) or classification (category prediction).
Consider the data type, number of unique values, and the nature of the values.
`

const featuresSystemPrompt = `You are a machine learning expert helping a learner choose input features.

Return your response in this exact JSON format:
{
    "features": ["col1", "col2"],
    "explanation": "brief explanation"
}`

const featuresPrompt = `
Context: %s

The user wants to predict the column '%s' (%s problem).
Available columns: %s

Recommend the columns that should be used as input features for the model.
- Never include the target column.
- Exclude identifiers, free text with mostly unique values, and columns that leak the target.
- Only use column names from the list above, spelled exactly.
`

const modelsSystemPrompt = `You are a machine learning expert recommending models to a learner.

Return your response in this exact JSON format:
{
    "models": [
        {"name": "Model name", "description": "one sentence on why it fits"}
    ]
}`

const modelsPrompt = `
Context: %s

Problem type: %s
Target column: %s
Selected features: %s

Suggest up to 6 scikit-learn models suitable for this problem, from simplest to most advanced. Use the scikit-learn estimator class name as the model name.
`

const hyperparametersSystemPrompt = `You are a machine learning expert. Suggest the most important hyperparameters for a model.

Return your response in this exact JSON format:
{
    "hyperparameters": [
        {
            "name": "parameter name as accepted by the estimator",
            "type": "integer" | "float" | "select",
            "default": default value,
            "min": minimum (numbers only),
            "max": maximum (numbers only),
            "step": step (numbers only),
            "options": ["a", "b"] (select only),
            "description": "short explanation for a learner"
        }
    ]
}`

const hyperparametersPrompt = `
Context: %s

Model: %s
Problem type: %s

Suggest the 3 hyperparameters a learner should tune first for this model, with sensible ranges.
`

const codeSystemPrompt = "You are a senior machine learning engineer. Write clean, well commented Python using pandas and scikit-learn. Return only the code."

const codePrompt = `
Context: %s

Write a complete Python training script for this project:
- Dataset file: %s
- Target column: %s
- Problem type: %s
- Feature columns: %s
- Missing value handling: %s
- Feature scaling: %s
- Class balancing: %s
- Train/test split: %s
- Model: %s
- Hyperparameters: %s

The script must load the CSV, apply the preprocessing above, split the data, train the model, and print evaluation metrics appropriate for the problem type.
`
