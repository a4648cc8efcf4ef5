package service

import "github.com/generatecover/api/internal/client"

const coverPromptInstruction = `You are an expert at writing image-generation prompts. Based on the article below, write an English prompt for an image that will be used as the article's cover.

Requirements:
1. The prompt must be in English
2. It must suit a blog article cover image
3. The style should be modern, professional and eye-catching
4. Keep it between 100 and 200 words
5. Describe concrete visual elements
6. Avoid human faces unless the article clearly requires them
7. Use high-quality photography or illustration style descriptions

Return only the prompt, without any other explanation.`

const summaryInstruction = `You are a professional content editor. Write a concise summary of the article below.

Requirements:
1. Keep the summary between 100 and 150 words
2. Highlight the core ideas and key information
3. Use clear and concise language
4. Keep the tone and style of the original
5. Do not add personal comments or explanations

Return only the summary, without any other explanation.`

func articleMessage(title, content string) string {
	return "Article title: " + title + "\n\nArticle content: " + content
}

func coverPromptRequest(title, content string) client.ChatRequest {
	return client.ChatRequest{
		Messages: []client.ChatMessage{
			{Role: "system", Content: coverPromptInstruction},
			{Role: "user", Content: articleMessage(title, content)},
		},
		MaxTokens:   500,
		Temperature: 0.7,
		TopP:        0.9,
	}
}

func summaryRequest(title, content string) client.ChatRequest {
	req := coverPromptRequest(title, content)
	req.Messages[0].Content = summaryInstruction
	return req
}
