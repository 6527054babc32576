package api

// indexHTML is the built-in dashboard: live previews for every stream plus
// the controls the JSON API exposes around them.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>FieldScan</title>
    <style>
        * {
            margin: 0;
            padding: 0;
            box-sizing: border-box;
        }
        body {
            background: #111;
            color: #ccc;
            font-family: system-ui, -apple-system, sans-serif;
            padding: 16px;
        }
        h1 {
            font-size: 18px;
            color: #eee;
            margin-bottom: 12px;
        }
        .streams {
            display: grid;
            grid-template-columns: repeat(auto-fit, minmax(320px, 1fr));
            gap: 12px;
            margin-bottom: 16px;
        }
        .stream {
            background: #000;
            border: 1px solid #333;
            border-radius: 6px;
            overflow: hidden;
        }
        .stream .label {
            padding: 4px 8px;
            font-size: 12px;
            color: #888;
            background: #1a1a1a;
        }
        .stream img {
            width: 100%;
            display: block;
            min-height: 180px;
            background: #000;
        }
        .controls {
            display: flex;
            flex-wrap: wrap;
            gap: 8px;
            margin-bottom: 16px;
        }
        button {
            padding: 8px 14px;
            border: none;
            border-radius: 6px;
            background: #2a2a2a;
            color: #ccc;
            font-size: 13px;
            cursor: pointer;
        }
        button:hover {
            background: #3a3a3a;
            color: #fff;
        }
        button.primary {
            background: rgba(70, 130, 180, 0.9);
            color: white;
        }
        button.danger {
            background: rgba(220, 80, 80, 0.9);
            color: white;
        }
        #status {
            background: #1a1a1a;
            border: 1px solid #333;
            border-radius: 6px;
            padding: 12px;
            font-family: 'Courier New', monospace;
            font-size: 12px;
            white-space: pre-wrap;
            color: #9c9;
        }
        .links {
            margin-top: 12px;
            font-size: 12px;
        }
        .links a {
            color: #6af;
            text-decoration: none;
            margin-right: 12px;
        }
        .links a:hover {
            text-decoration: underline;
        }
    </style>
</head>
<body>
    <h1>FieldScan</h1>
    <div class="streams">
        <div class="stream"><div class="label">rgb</div><img src="/api/stream/rgb" alt="rgb"></div>
        <div class="stream"><div class="label">depth</div><img src="/api/stream/depth" alt="depth"></div>
        <div class="stream"><div class="label">ir</div><img src="/api/stream/ir" alt="ir"></div>
        <div class="stream"><div class="label">depth_raw</div><img src="/api/stream/depth_raw" alt="depth_raw"></div>
    </div>
    <div class="controls">
        <button class="primary" onclick="post('/api/start')">Start</button>
        <button class="danger" onclick="post('/api/stop')">Stop</button>
        <button onclick="startRecording(false, false)">Record (triggered)</button>
        <button onclick="startRecording(true, false)">Record (continuous)</button>
        <button onclick="startRecording(true, true)">Record (continuous + video)</button>
        <button class="danger" onclick="stopRecording()">Stop Recording</button>
        <button class="primary" onclick="capture()">Capture Now</button>
    </div>
    <div id="status">connecting...</div>
    <div class="links">
        <a href="/api/status">status</a>
        <a href="/api/devices">devices</a>
        <a href="/api/config">config</a>
        <a href="/metrics">metrics</a>
    </div>
    <script>
        function post(path, body) {
            const opts = { method: 'POST' };
            if (body !== undefined) {
                opts.headers = { 'Content-Type': 'application/json' };
                opts.body = JSON.stringify(body);
            }
            return fetch(path, opts)
                .then(r => r.json())
                .then(data => {
                    if (data.error) alert(data.error);
                })
                .catch(console.error);
        }

        function startRecording(continuous, video) {
            post('/api/recording', { continuous: continuous, video: video });
        }

        function stopRecording() {
            fetch('/api/recording', { method: 'DELETE' })
                .then(r => r.json())
                .then(data => {
                    if (data.error) alert(data.error);
                })
                .catch(console.error);
        }

        function capture() {
            fetch('/api/capture', { method: 'POST' })
                .then(r => r.json())
                .then(data => {
                    if (data.error) alert(data.error);
                })
                .catch(console.error);
        }

        function show(status) {
            document.getElementById('status').textContent =
                JSON.stringify(status, null, 2);
        }

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
            const ws = new WebSocket(proto + '//' + location.host + '/api/events');
            ws.onmessage = e => show(JSON.parse(e.data));
            ws.onclose = () => setTimeout(connect, 2000);
        }
        connect();
    </script>
</body>
</html>
`
