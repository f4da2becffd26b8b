package interceptor

import (
	"github.com/gofiber/fiber/v3"
)

// offlineHTML 是导航失败时合成的自包含离线页：内联样式、无外部依赖，
// 带手动重试链接，并监听 online 事件自动刷新。
const offlineHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>BriefCast - Offline</title>
  <style>
    body {
      font-family: system-ui, -apple-system, BlinkMacSystemFont, sans-serif;
      background: linear-gradient(145deg, #4F46E5, #6422FE);
      color: white;
      height: 100vh;
      margin: 0;
      display: flex;
      flex-direction: column;
      align-items: center;
      justify-content: center;
      text-align: center;
      padding: 1rem;
    }
    .container {
      background-color: rgba(255, 255, 255, 0.1);
      padding: 2rem;
      border-radius: 0.5rem;
      backdrop-filter: blur(10px);
      max-width: 500px;
    }
    h1 {
      margin-top: 0;
    }
    .button {
      background-color: #F59E0B;
      color: white;
      padding: 0.5rem 1rem;
      border-radius: 0.25rem;
      text-decoration: none;
      display: inline-block;
      margin-top: 1rem;
    }
  </style>
</head>
<body>
  <div class="container">
    <h1>You're Offline</h1>
    <p>BriefCast is currently offline. You can still access your downloaded podcasts.</p>
    <a href="/" class="button">Try Again</a>
  </div>
  <script>
    window.addEventListener('online', function() {
      window.location.reload();
    });
  </script>
</body>
</html>
`

// emptyScriptBody 让缺失分片退化为无害的 no-op，而不是错误页。
const emptyScriptBody = `console.log("Failed to load script");`

const emptyStylesheetBody = `/* Failed to load stylesheet */`

// networkError 合成 408 响应，代替未处理的抓取失败。
func networkError(c fiber.Ctx) error {
	c.Set("Content-Type", "text/plain")
	return c.Status(fiber.StatusRequestTimeout).SendString("Network error")
}

func emptyScript(c fiber.Ctx) error {
	c.Set("Content-Type", "application/javascript")
	return c.Status(fiber.StatusOK).SendString(emptyScriptBody)
}

func emptyStylesheet(c fiber.Ctx) error {
	c.Set("Content-Type", "text/css")
	return c.Status(fiber.StatusOK).SendString(emptyStylesheetBody)
}

func offlinePage(c fiber.Ctx) error {
	c.Set("Content-Type", "text/html")
	return c.Status(fiber.StatusOK).SendString(offlineHTML)
}
